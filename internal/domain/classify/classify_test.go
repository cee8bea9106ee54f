package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpipe/cardpipe/internal/domain/doctree"
)

func drawable(name string, visible bool) *doctree.Drawable {
	return &doctree.Drawable{Name: name, Type: "path", Visible: visible, Opacity: 1}
}

func leafLayer(name string, d *doctree.Drawable) *doctree.Layer {
	return &doctree.Layer{Name: name, Visible: true, Drawables: []*doctree.Drawable{d}}
}

func TestClassifyResolvesSideCardFinishFromAncestors(t *testing.T) {
	doc := &doctree.Document{
		Layers: []*doctree.Layer{
			{
				Name:    "root",
				Visible: true,
				SubLayers: []*doctree.Layer{
					leafLayer("front_layer_0", drawable("base", true)),
					leafLayer("foil_accent", drawable("logo", true)),
				},
			},
		},
	}

	buckets := Classify(doc)

	base := buckets[BucketKey{Side: SideFront, CardIndex: 0, Finish: FinishPrint}]
	require.Len(t, base, 1)
	assert.Equal(t, "base", base[0].Drawable.Name)

	foil := buckets[BucketKey{Side: SideFront, CardIndex: 0, Finish: FinishFoil}]
	require.Len(t, foil, 1)
	assert.Equal(t, "logo", foil[0].Drawable.Name)
}

func TestClassifyKeepsHiddenPrintAndHiddenDie(t *testing.T) {
	doc := &doctree.Document{
		Layers: []*doctree.Layer{
			{
				Name:    "root",
				Visible: true,
				SubLayers: []*doctree.Layer{
					leafLayer("front_layer_0", drawable("hidden_print", false)),
					leafLayer("cutline", drawable("hidden_die", false)),
				},
			},
		},
	}

	buckets := Classify(doc)

	printItems := buckets[BucketKey{Side: SideFront, CardIndex: 0, Finish: FinishPrint}]
	require.Len(t, printItems, 1)
	assert.Equal(t, "hidden_print", printItems[0].Drawable.Name)
	die := buckets[BucketKey{Side: SideFront, CardIndex: 0, Finish: FinishDie}]
	require.Len(t, die, 1)
	assert.Equal(t, "hidden_die", die[0].Drawable.Name)
}

func TestFinishEmbossWinsOnCombinedName(t *testing.T) {
	f, ok := finishOf("emboss_deboss_panel")
	require.True(t, ok)
	assert.Equal(t, FinishEmboss, f, "a name containing both tokens resolves as emboss per the die > emboss > deboss > foil > uv > print precedence")

	f, ok = finishOf("emboss_panel")
	require.True(t, ok)
	assert.Equal(t, FinishEmboss, f)
}

func TestResolveSideExplicitMarkerWins(t *testing.T) {
	doc := &doctree.Document{
		Artboards: []doctree.Artboard{
			{Name: "Artboard 1", Index: 0, Bounds: doctree.Rect{L: 0, T: 0, R: 100, B: 100}},
		},
	}
	d := drawable("x", true)
	side := resolveSide(doc, []string{"back_panel"}, d)
	assert.Equal(t, SideBack, side)
}

func TestResolveSideFallsBackToArtboardXOrder(t *testing.T) {
	doc := &doctree.Document{
		Artboards: []doctree.Artboard{
			{Name: "AB1", Index: 0, Bounds: doctree.Rect{L: 0, T: 0, R: 100, B: 100}},
			{Name: "AB2", Index: 1, Bounds: doctree.Rect{L: 200, T: 0, R: 300, B: 100}},
		},
	}
	d := drawable("x", true)
	d.Bounds = doctree.Rect{L: 210, T: 10, R: 290, B: 90}

	side := resolveSide(doc, nil, d)
	assert.Equal(t, SideBack, side)
}

func TestResolveCardIndexPrefersCardLayerPattern(t *testing.T) {
	idx := resolveCardIndex([]string{"misc_3", "front_layer_2"})
	assert.Equal(t, 2, idx)
}

func TestResolveCardIndexFallsBackToTrailingDigits(t *testing.T) {
	idx := resolveCardIndex([]string{"variant_7"})
	assert.Equal(t, 7, idx)
}

func TestSortedKeysOrdering(t *testing.T) {
	buckets := Buckets{
		{Side: SideBack, CardIndex: 0, Finish: FinishPrint}:  nil,
		{Side: SideFront, CardIndex: 1, Finish: FinishPrint}: nil,
		{Side: SideFront, CardIndex: 0, Finish: FinishFoil}:  nil,
		{Side: SideFront, CardIndex: 0, Finish: FinishDie}:   nil,
	}

	keys := SortedKeys(buckets)
	require.Len(t, keys, 4)
	assert.Equal(t, BucketKey{Side: SideFront, CardIndex: 0, Finish: FinishDie}, keys[0])
	assert.Equal(t, BucketKey{Side: SideFront, CardIndex: 0, Finish: FinishFoil}, keys[1])
	assert.Equal(t, BucketKey{Side: SideFront, CardIndex: 1, Finish: FinishPrint}, keys[2])
	assert.Equal(t, BucketKey{Side: SideBack, CardIndex: 0, Finish: FinishPrint}, keys[3])
}
