// Package manifest implements C4 (assembly of the v3 manifest from a plan
// and the renderer's produced files) and C8 (adapting v3 to the stable
// consumer shape on retrieval).
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardpipe/cardpipe/internal/domain/classify"
	"github.com/cardpipe/cardpipe/internal/domain/doctree"
	"github.com/cardpipe/cardpipe/internal/domain/planner"
)

const Version = 3

// Artboard mirrors doctree.Artboard in the wire shape (mm units).
type Artboard struct {
	Name   string  `json:"name"`
	Index  int     `json:"index"`
	Bounds [4]float64 `json:"bounds_mm"`
}

// Doc is the manifest's top-level document metadata.
type Doc struct {
	Name               string     `json:"name"`
	FullName           string     `json:"full_name"`
	Units              string     `json:"units"`
	Artboards          []Artboard `json:"artboards"`
	MirrorBackAtDisplay bool      `json:"mirror_back_at_display"`
}

// Item is one classified drawable as surfaced in the manifest, with the
// Hidden flag recorded rather than silently dropped (spec.md §5 decision).
type Item struct {
	Name      string  `json:"name"`
	Side      string  `json:"side"`
	CardIndex int     `json:"card_index"`
	Finish    string  `json:"finish"`
	BoundsMM  [4]float64 `json:"bounds_mm"`
	Hidden    bool    `json:"hidden"`
}

// CardMaps is the per-card flat filename view.
type CardMaps struct {
	Albedo      string `json:"albedo,omitempty"`
	Foil        string `json:"foil,omitempty"`
	FoilColor   string `json:"foil_color,omitempty"`
	UV          string `json:"uv,omitempty"`
	Emboss      string `json:"emboss,omitempty"`
	EmbossType  string `json:"embossType,omitempty"`
	DiecutSVG   string `json:"diecut,omitempty"`
	DiecutMask  string `json:"diecut_mask,omitempty"`
}

// CardGeometry carries the same shape as CardMaps plus sizing metadata.
type CardGeometry struct {
	Maps     CardMaps   `json:"maps"`
	SizeMM   [2]float64 `json:"size_mm"`
	OriginMM [2]float64 `json:"origin_mm"`
	PX       [2]int     `json:"px"`
	DPI      int        `json:"dpi"`
}

// Maps is the convenience view: legacy flat keys plus per-card arrays.
type Maps struct {
	Front      CardMaps   `json:"front"`
	Back       CardMaps   `json:"back"`
	FrontCards []CardMaps `json:"front_cards"`
	BackCards  []CardMaps `json:"back_cards"`
}

// Geometry mirrors Maps but each entry carries sizing metadata.
type Geometry struct {
	Front      CardGeometry   `json:"front"`
	Back       CardGeometry   `json:"back"`
	FrontCards []CardGeometry `json:"front_cards"`
	BackCards  []CardGeometry `json:"back_cards"`
}

// Diagnostics carries per-side bucket counts.
type Diagnostics struct {
	FrontBucketCounts map[string]int `json:"front_bucket_counts"`
	BackBucketCounts  map[string]int `json:"back_bucket_counts"`
}

// Manifest is the full v3 document.
type Manifest struct {
	JobID         string      `json:"job_id"`
	Doc           Doc         `json:"doc"`
	Items         []Item      `json:"items"`
	Maps          Maps        `json:"maps"`
	Geometry      Geometry    `json:"geometry"`
	Diagnostics   Diagnostics `json:"diagnostics"`
	AssetsRelBase string      `json:"assets_rel_base"`
	V             int         `json:"v"`
}

const DefaultDPI = 600

// Assemble builds the v3 manifest from the classified buckets, the export
// plan, and the document. resultDir is checked on disk: every asset named
// in the plan must exist and be non-zero length, or assembly fails (spec.md
// §4.7 "every referenced asset must exist on disk at write time").
func Assemble(jobID string, doc *doctree.Document, buckets classify.Buckets, plan planner.Plan, resultDir string) (*Manifest, error) {
	m := &Manifest{
		JobID: jobID,
		Doc: Doc{
			Name:                doc.Name,
			FullName:            doc.FullName,
			Units:               "mm",
			MirrorBackAtDisplay: true,
		},
		AssetsRelBase: fmt.Sprintf("assets/%s/", jobID),
		V:             Version,
	}
	for _, ab := range doc.Artboards {
		m.Doc.Artboards = append(m.Doc.Artboards, Artboard{
			Name:  ab.Name,
			Index: ab.Index,
			Bounds: [4]float64{ab.Bounds.L, ab.Bounds.T, ab.Bounds.R, ab.Bounds.B},
		})
	}

	for _, key := range classify.SortedKeys(buckets) {
		for _, it := range buckets[key] {
			m.Items = append(m.Items, Item{
				Name:      it.Drawable.Name,
				Side:      string(key.Side),
				CardIndex: key.CardIndex,
				Finish:    string(key.Finish),
				BoundsMM:  [4]float64{it.Drawable.Bounds.L, it.Drawable.Bounds.T, it.Drawable.Bounds.R, it.Drawable.Bounds.B},
				Hidden:    !it.Drawable.Visible,
			})
		}
	}

	m.Diagnostics.FrontBucketCounts = bucketCounts(buckets, classify.SideFront)
	m.Diagnostics.BackBucketCounts = bucketCounts(buckets, classify.SideBack)

	var frontCards, backCards []CardPlanResult
	for _, card := range plan.Cards {
		cm, cg, err := buildCard(card, buckets, resultDir)
		if err != nil {
			return nil, err
		}
		res := CardPlanResult{Maps: cm, Geometry: cg}
		if card.Side == classify.SideFront {
			frontCards = append(frontCards, res)
		} else {
			backCards = append(backCards, res)
		}
	}

	for _, r := range frontCards {
		m.Maps.FrontCards = append(m.Maps.FrontCards, r.Maps)
		m.Geometry.FrontCards = append(m.Geometry.FrontCards, r.Geometry)
	}
	for _, r := range backCards {
		m.Maps.BackCards = append(m.Maps.BackCards, r.Maps)
		m.Geometry.BackCards = append(m.Geometry.BackCards, r.Geometry)
	}
	if len(frontCards) > 0 {
		m.Maps.Front = frontCards[0].Maps
		m.Geometry.Front = frontCards[0].Geometry
	}
	if len(backCards) > 0 {
		m.Maps.Back = backCards[0].Maps
		m.Geometry.Back = backCards[0].Geometry
	}

	return m, nil
}

// CardPlanResult bundles one card's flat-map view with its geometry view.
type CardPlanResult struct {
	Maps     CardMaps
	Geometry CardGeometry
}

func bucketCounts(buckets classify.Buckets, side classify.Side) map[string]int {
	counts := map[string]int{}
	for k, items := range buckets {
		if k.Side != side {
			continue
		}
		counts[string(k.Finish)] += len(items)
	}
	return counts
}

func buildCard(card planner.CardPlan, buckets classify.Buckets, resultDir string) (CardMaps, CardGeometry, error) {
	var cm CardMaps
	embossType, hasEmboss := planner.EmbossType(buckets, card.Side, card.CardIndex)
	if hasEmboss {
		cm.EmbossType = embossType
	}

	for _, a := range card.Assets {
		full := filepath.Join(resultDir, a.OutputName)
		info, err := os.Stat(full)
		if err != nil || info.Size() == 0 {
			return cm, CardGeometry{}, fmt.Errorf("assemble manifest: asset %q missing or empty: %w", a.OutputName, err)
		}
		switch {
		case strings.HasSuffix(a.OutputName, "_albedo.png"):
			cm.Albedo = a.OutputName
		case strings.HasSuffix(a.OutputName, "_foil_color.png"):
			cm.FoilColor = a.OutputName
		case strings.HasSuffix(a.OutputName, "_foil.png"):
			cm.Foil = a.OutputName
		case strings.HasSuffix(a.OutputName, "_uv.png"):
			cm.UV = a.OutputName
		case strings.HasSuffix(a.OutputName, "_emboss.png"):
			cm.Emboss = a.OutputName
		case strings.HasSuffix(a.OutputName, "_diecut.svg"):
			cm.DiecutSVG = a.OutputName
		case strings.HasSuffix(a.OutputName, "_diecut_mask.png"):
			cm.DiecutMask = a.OutputName
		}
	}

	w := card.Crop.Width()
	h := card.Crop.Height()
	const ptToMM = 25.4 / 72.0
	sizeMM := [2]float64{w * ptToMM, h * ptToMM}
	px := [2]int{
		int(w / 72.0 * DefaultDPI),
		int(h / 72.0 * DefaultDPI),
	}
	cg := CardGeometry{
		Maps:     cm,
		SizeMM:   sizeMM,
		OriginMM: [2]float64{card.Crop.L * ptToMM, card.Crop.T * ptToMM},
		PX:       px,
		DPI:      DefaultDPI,
	}
	return cm, cg, nil
}

// SortedCardKeys returns the card prefixes in the same deterministic order
// as Assemble enumerates cards: the plan's own order.
func SortedCardKeys(plan planner.Plan) []string {
	names := make([]string, 0, len(plan.Cards))
	for _, c := range plan.Cards {
		names = append(names, c.Prefix)
	}
	return names
}
