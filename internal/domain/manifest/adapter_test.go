package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptResolvesDimensionsFromFrontGeometry(t *testing.T) {
	m := &Manifest{
		JobID:         "job-1",
		AssetsRelBase: "assets/job-1/",
		Geometry: Geometry{
			Front: CardGeometry{SizeMM: [2]float64{89.5, 51.2}},
		},
		Maps: Maps{
			Front: CardMaps{Albedo: "front_layer_0_albedo.png", Foil: "front_layer_0_foil.png", FoilColor: "front_layer_0_foil_color.png"},
		},
	}

	out := Adapt(m)
	assert.Equal(t, 89.5, out.Dimensions.WidthMM)
	assert.Equal(t, 51.2, out.Dimensions.HeightMM)
	assert.Equal(t, "assets/job-1/front_layer_0_albedo.png", out.Front.AlbedoURL)
	require.Len(t, out.Front.FoilLayers, 1)
	assert.Equal(t, "assets/job-1/front_layer_0_foil_color.png", out.Front.FoilLayers[0].ColorURL)
}

func TestAdaptFallsBackToDefaultDimensionsWhenNoGeometryOrArtboards(t *testing.T) {
	m := &Manifest{JobID: "job-2"}
	out := Adapt(m)
	assert.Equal(t, defaultDimensions, out.Dimensions)
}

func TestAdaptFallsBackToArtboardBounds(t *testing.T) {
	m := &Manifest{
		Doc: Doc{Artboards: []Artboard{{Bounds: [4]float64{0, 0, 100, 60}}}},
	}
	out := Adapt(m)
	assert.Equal(t, 100.0, out.Dimensions.WidthMM)
	assert.Equal(t, 60.0, out.Dimensions.HeightMM)
}

func TestAdaptEmbossLayerCarriesResolvedType(t *testing.T) {
	m := &Manifest{
		Maps: Maps{Front: CardMaps{Emboss: "front_layer_0_emboss.png", EmbossType: "deboss"}},
	}
	out := Adapt(m)
	require.Len(t, out.Front.EmbossLayers, 1)
	assert.Equal(t, "deboss", out.Front.EmbossLayers[0].Type)
}
