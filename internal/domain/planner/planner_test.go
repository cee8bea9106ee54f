package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpipe/cardpipe/internal/domain/classify"
	"github.com/cardpipe/cardpipe/internal/domain/doctree"
)

func item(f classify.Finish, side classify.Side, idx int, r doctree.Rect) classify.Item {
	return classify.Item{
		Key:      classify.BucketKey{Side: side, CardIndex: idx, Finish: f},
		Drawable: &doctree.Drawable{Bounds: r},
	}
}

func TestSelectCropPrefersDieOverPrint(t *testing.T) {
	buckets := classify.Buckets{}
	k := func(f classify.Finish) classify.BucketKey {
		return classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: f}
	}
	buckets[k(classify.FinishDie)] = []classify.Item{item(classify.FinishDie, classify.SideFront, 0, doctree.Rect{L: 0, T: 0, R: 10, B: 10})}
	buckets[k(classify.FinishPrint)] = []classify.Item{item(classify.FinishPrint, classify.SideFront, 0, doctree.Rect{L: 0, T: 0, R: 100, B: 100})}

	crop := selectCrop(buckets, classify.SideFront, 0, doctree.Rect{})
	assert.Equal(t, doctree.Rect{L: 0, T: 0, R: 10, B: 10}, crop)
}

func TestSelectCropFallsBackToActiveArtboard(t *testing.T) {
	buckets := classify.Buckets{}
	active := doctree.Rect{L: 0, T: 0, R: 50, B: 80}
	crop := selectCrop(buckets, classify.SideFront, 0, active)
	assert.Equal(t, active, crop)
}

func TestNormalizePadsDegenerateRect(t *testing.T) {
	r := normalize(doctree.Rect{L: 5, T: 5, R: 5, B: 5})
	assert.Equal(t, doctree.Rect{L: 5, T: 5, R: 6, B: 6}, r)
}

func TestNormalizeSwapsInvertedCoordinates(t *testing.T) {
	r := normalize(doctree.Rect{L: 10, T: 10, R: 0, B: 0})
	assert.Equal(t, doctree.Rect{L: 0, T: 0, R: 10, B: 10}, r)
}

func TestPlanAssetsIncludesFoilAndDieOutputs(t *testing.T) {
	buckets := classify.Buckets{
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishFoil}: {item(classify.FinishFoil, classify.SideFront, 0, doctree.Rect{})},
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishDie}:  {item(classify.FinishDie, classify.SideFront, 0, doctree.Rect{})},
	}

	assets := planAssets(buckets, classify.SideFront, 0, "front_layer_0")

	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = a.OutputName
	}
	assert.Contains(t, names, "front_layer_0_albedo.png")
	assert.Contains(t, names, "front_layer_0_foil.png")
	assert.Contains(t, names, "front_layer_0_foil_color.png")
	assert.Contains(t, names, "front_layer_0_diecut.svg")
	assert.Contains(t, names, "front_layer_0_diecut_mask.png")
	assert.NotContains(t, names, "front_layer_0_uv.png")
}

func TestEmbossTypeEmbossWinsOverDeboss(t *testing.T) {
	buckets := classify.Buckets{
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishEmboss}: {item(classify.FinishEmboss, classify.SideFront, 0, doctree.Rect{})},
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishDeboss}: {item(classify.FinishDeboss, classify.SideFront, 0, doctree.Rect{})},
	}

	got, ok := EmbossType(buckets, classify.SideFront, 0)
	require.True(t, ok)
	assert.Equal(t, "emboss", got)
}

func TestEmbossTypeAbsentWhenNeitherPresent(t *testing.T) {
	_, ok := EmbossType(classify.Buckets{}, classify.SideFront, 0)
	assert.False(t, ok)
}

func TestPlanOrdersCardsFrontThenBackAscendingIndex(t *testing.T) {
	buckets := classify.Buckets{
		classify.BucketKey{Side: classify.SideBack, CardIndex: 0, Finish: classify.FinishPrint}:  {item(classify.FinishPrint, classify.SideBack, 0, doctree.Rect{L: 0, T: 0, R: 1, B: 1})},
		classify.BucketKey{Side: classify.SideFront, CardIndex: 1, Finish: classify.FinishPrint}: {item(classify.FinishPrint, classify.SideFront, 1, doctree.Rect{L: 0, T: 0, R: 1, B: 1})},
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}: {item(classify.FinishPrint, classify.SideFront, 0, doctree.Rect{L: 0, T: 0, R: 1, B: 1})},
	}

	p := Plan(buckets, doctree.Rect{})
	require.Len(t, p.Cards, 3)
	assert.Equal(t, classify.SideFront, p.Cards[0].Side)
	assert.Equal(t, 0, p.Cards[0].CardIndex)
	assert.Equal(t, classify.SideFront, p.Cards[1].Side)
	assert.Equal(t, 1, p.Cards[1].CardIndex)
	assert.Equal(t, classify.SideBack, p.Cards[2].Side)
}
