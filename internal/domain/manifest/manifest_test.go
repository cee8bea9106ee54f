package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpipe/cardpipe/internal/domain/classify"
	"github.com/cardpipe/cardpipe/internal/domain/doctree"
	"github.com/cardpipe/cardpipe/internal/domain/planner"
)

func writeAsset(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
}

func TestAssembleBuildsFrontCardMapsAndGeometry(t *testing.T) {
	resultDir := t.TempDir()
	writeAsset(t, resultDir, "front_layer_0_albedo.png")

	doc := &doctree.Document{Name: "biz-card", FullName: "biz-card.ai"}
	buckets := classify.Buckets{
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}: {
			{Key: classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}, Drawable: &doctree.Drawable{Name: "base", Visible: true}},
		},
	}
	plan := planner.Plan(buckets, doctree.Rect{L: 0, T: 0, R: 252, B: 144})

	m, err := Assemble("job-1", doc, buckets, plan, resultDir)
	require.NoError(t, err)

	assert.Equal(t, Version, m.V)
	assert.Equal(t, "job-1", m.JobID)
	assert.Equal(t, "assets/job-1/", m.AssetsRelBase)
	require.Len(t, m.Items, 1)
	assert.False(t, m.Items[0].Hidden)
	assert.Equal(t, "front_layer_0_albedo.png", m.Maps.Front.Albedo)
	require.Len(t, m.Maps.FrontCards, 1)
	assert.Equal(t, DefaultDPI, m.Geometry.Front.DPI)
}

func TestAssembleFailsWhenPlannedAssetMissing(t *testing.T) {
	resultDir := t.TempDir()

	doc := &doctree.Document{Name: "biz-card"}
	buckets := classify.Buckets{
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}: {
			{Key: classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}, Drawable: &doctree.Drawable{Name: "base", Visible: true}},
		},
	}
	plan := planner.Plan(buckets, doctree.Rect{L: 0, T: 0, R: 252, B: 144})

	_, err := Assemble("job-1", doc, buckets, plan, resultDir)
	require.Error(t, err)
}

func TestAssembleMarksHiddenItems(t *testing.T) {
	resultDir := t.TempDir()
	writeAsset(t, resultDir, "front_layer_0_albedo.png")
	writeAsset(t, resultDir, "front_layer_0_diecut.svg")
	writeAsset(t, resultDir, "front_layer_0_diecut_mask.png")

	doc := &doctree.Document{}
	buckets := classify.Buckets{
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}: {
			{Key: classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishPrint}, Drawable: &doctree.Drawable{Name: "base", Visible: true}},
		},
		classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishDie}: {
			{Key: classify.BucketKey{Side: classify.SideFront, CardIndex: 0, Finish: classify.FinishDie}, Drawable: &doctree.Drawable{Name: "guide", Visible: false}},
		},
	}
	plan := planner.Plan(buckets, doctree.Rect{L: 0, T: 0, R: 252, B: 144})

	m, err := Assemble("job-1", doc, buckets, plan, resultDir)
	require.NoError(t, err)

	var hidden *Item
	for i := range m.Items {
		if m.Items[i].Name == "guide" {
			hidden = &m.Items[i]
		}
	}
	require.NotNil(t, hidden)
	assert.True(t, hidden.Hidden)
	assert.Equal(t, "front_layer_0_diecut.svg", m.Maps.Front.DiecutSVG)
}
