package manifest

// Dimensions is the card's physical size as surfaced to the consumer shape.
type Dimensions struct {
	WidthMM   float64 `json:"widthMm"`
	HeightMM  float64 `json:"heightMm"`
	Thickness float64 `json:"thicknessMm"`
}

var defaultDimensions = Dimensions{WidthMM: 89, HeightMM: 51, Thickness: 0.35}

// FoilLayer is one foil effect surfaced to the consumer.
type FoilLayer struct {
	ColorURL string `json:"colorUrl"`
	MaskURL  string `json:"maskUrl"`
}

// UVLayer is one UV/spot-varnish effect surfaced to the consumer.
type UVLayer struct {
	MaskURL string `json:"maskUrl"`
}

// EmbossLayer is one emboss/deboss effect surfaced to the consumer.
type EmbossLayer struct {
	MaskURL string `json:"maskUrl"`
	Type    string `json:"type"`
}

// SideView is the per-side consumer shape.
type SideView struct {
	AlbedoURL    string        `json:"albedoUrl,omitempty"`
	DieCutURL    string        `json:"dieCutUrl,omitempty"`
	FoilLayers   []FoilLayer   `json:"foilLayers"`
	UVLayers     []UVLayer     `json:"uvLayers"`
	EmbossLayers []EmbossLayer `json:"embossLayers"`
}

// ConsumerManifest is the stable shape C8 adapts v3 into for the 3D
// previewer, with the raw v3 document retained under ParseResult so callers
// needing full fidelity are never blocked on the adapter's projection.
type ConsumerManifest struct {
	JobID        string     `json:"jobId"`
	Dimensions   Dimensions `json:"dimensions"`
	Front        SideView   `json:"front"`
	Back         SideView   `json:"back"`
	FrontLayers  []SideView `json:"frontLayers,omitempty"`
	BackLayers   []SideView `json:"backLayers,omitempty"`
	AssetsRelBase string    `json:"assetsRelBase"`
	ParseResult  *Manifest  `json:"parseResult"`
}

// Adapt normalizes a v3 manifest into the consumer shape (C8), resolving
// dimensions from geometry.front, then geometry.back, then artboard 0,
// defaulting to a standard US business card size.
func Adapt(m *Manifest) *ConsumerManifest {
	out := &ConsumerManifest{
		JobID:         m.JobID,
		AssetsRelBase: m.AssetsRelBase,
		ParseResult:   m,
	}

	switch {
	case m.Geometry.Front.SizeMM != [2]float64{0, 0}:
		out.Dimensions = Dimensions{WidthMM: m.Geometry.Front.SizeMM[0], HeightMM: m.Geometry.Front.SizeMM[1], Thickness: defaultDimensions.Thickness}
	case m.Geometry.Back.SizeMM != [2]float64{0, 0}:
		out.Dimensions = Dimensions{WidthMM: m.Geometry.Back.SizeMM[0], HeightMM: m.Geometry.Back.SizeMM[1], Thickness: defaultDimensions.Thickness}
	case len(m.Doc.Artboards) > 0:
		ab := m.Doc.Artboards[0]
		const ptToMM = 25.4 / 72.0
		out.Dimensions = Dimensions{
			WidthMM:   (ab.Bounds[2] - ab.Bounds[0]),
			HeightMM:  (ab.Bounds[3] - ab.Bounds[1]),
			Thickness: defaultDimensions.Thickness,
		}
	default:
		out.Dimensions = defaultDimensions
	}

	out.Front = adaptSide(m.Maps.Front, m.AssetsRelBase)
	out.Back = adaptSide(m.Maps.Back, m.AssetsRelBase)
	for _, c := range m.Maps.FrontCards {
		out.FrontLayers = append(out.FrontLayers, adaptSide(c, m.AssetsRelBase))
	}
	for _, c := range m.Maps.BackCards {
		out.BackLayers = append(out.BackLayers, adaptSide(c, m.AssetsRelBase))
	}
	return out
}

func adaptSide(cm CardMaps, base string) SideView {
	sv := SideView{
		FoilLayers:   []FoilLayer{},
		UVLayers:     []UVLayer{},
		EmbossLayers: []EmbossLayer{},
	}
	if cm.Albedo != "" {
		sv.AlbedoURL = base + cm.Albedo
	}
	if cm.DiecutSVG != "" {
		sv.DieCutURL = base + cm.DiecutSVG
	}
	if cm.Foil != "" || cm.FoilColor != "" {
		sv.FoilLayers = append(sv.FoilLayers, FoilLayer{
			ColorURL: nonEmptyPrefixed(base, cm.FoilColor),
			MaskURL:  nonEmptyPrefixed(base, cm.Foil),
		})
	}
	if cm.UV != "" {
		sv.UVLayers = append(sv.UVLayers, UVLayer{MaskURL: base + cm.UV})
	}
	if cm.Emboss != "" {
		sv.EmbossLayers = append(sv.EmbossLayers, EmbossLayer{MaskURL: base + cm.Emboss, Type: cm.EmbossType})
	}
	return sv
}

func nonEmptyPrefixed(base, name string) string {
	if name == "" {
		return ""
	}
	return base + name
}
