// Package planner implements C2: a pure function mapping classified buckets
// to per-card crop rectangles and an asset production plan.
package planner

import (
	"fmt"
	"sort"

	"github.com/cardpipe/cardpipe/internal/domain/classify"
	"github.com/cardpipe/cardpipe/internal/domain/doctree"
)

// Format is the expected output container for a planned asset.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// AssetPlanEntry is one file the renderer must produce for one card.
type AssetPlanEntry struct {
	CardPrefix   string
	Finish       classify.Finish
	OutputName   string
	ExpectedFmt  Format
}

// CardPlan is the crop rectangle and asset plan for one (side, card_index).
type CardPlan struct {
	Side      classify.Side
	CardIndex int
	Prefix    string
	Crop      doctree.Rect
	Assets    []AssetPlanEntry
}

// Plan is the full, ordered export plan for a document.
type Plan struct {
	Cards []CardPlan
}

// Plan computes crop rectangles and asset plans for every (side, card_index)
// pair present in buckets: front cards before back cards, each side in
// ascending card_index order. Deterministic: the
// same buckets always produce the same plan.
func Plan(buckets classify.Buckets, activeArtboard doctree.Rect) Plan {
	type cardKey struct {
		side classify.Side
		idx  int
	}
	cards := map[cardKey]bool{}
	for k := range buckets {
		cards[cardKey{k.Side, k.CardIndex}] = true
	}

	keys := make([]cardKey, 0, len(cards))
	for k := range cards {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].side != keys[j].side {
			return keys[i].side == classify.SideFront
		}
		return keys[i].idx < keys[j].idx
	})

	out := Plan{Cards: make([]CardPlan, 0, len(keys))}
	for _, k := range keys {
		prefix := fmt.Sprintf("%s_layer_%d", k.side, k.idx)
		crop := selectCrop(buckets, k.side, k.idx, activeArtboard)
		assets := planAssets(buckets, k.side, k.idx, prefix)
		out.Cards = append(out.Cards, CardPlan{
			Side:      k.side,
			CardIndex: k.idx,
			Prefix:    prefix,
			Crop:      crop,
			Assets:    assets,
		})
	}
	return out
}

func rectsFor(buckets classify.Buckets, side classify.Side, idx int, finishes ...classify.Finish) []doctree.Rect {
	var rects []doctree.Rect
	for _, f := range finishes {
		items := buckets[classify.BucketKey{Side: side, CardIndex: idx, Finish: f}]
		for _, it := range items {
			rects = append(rects, it.Drawable.Bounds)
		}
	}
	return rects
}

// selectCrop applies the §4.2 preference order, stopping at the first
// non-empty union, falling back to the active artboard rectangle.
func selectCrop(buckets classify.Buckets, side classify.Side, idx int, activeArtboard doctree.Rect) doctree.Rect {
	tiers := [][]classify.Finish{
		{classify.FinishDie},
		{classify.FinishPrint},
		{classify.FinishFoil, classify.FinishUV, classify.FinishEmboss, classify.FinishDeboss},
	}
	for _, tier := range tiers {
		rects := rectsFor(buckets, side, idx, tier...)
		if u, ok := doctree.UnionAll(rects); ok {
			return normalize(u)
		}
	}
	return normalize(activeArtboard)
}

// normalize ensures strictly positive width/height, padding degenerate
// rects by one point per spec.md §4.2.
func normalize(r doctree.Rect) doctree.Rect {
	l, t, rr, b := r.L, r.T, r.R, r.B
	if rr < l {
		l, rr = rr, l
	}
	if b < t {
		t, b = b, t
	}
	if rr-l <= 0 {
		rr = l + 1
	}
	if b-t <= 0 {
		b = t + 1
	}
	return doctree.Rect{L: l, T: t, R: rr, B: b}
}

func planAssets(buckets classify.Buckets, side classify.Side, idx int, prefix string) []AssetPlanEntry {
	has := func(f classify.Finish) bool {
		return len(buckets[classify.BucketKey{Side: side, CardIndex: idx, Finish: f}]) > 0
	}

	var assets []AssetPlanEntry
	assets = append(assets, AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishPrint, OutputName: prefix + "_albedo.png", ExpectedFmt: FormatPNG})

	if has(classify.FinishFoil) {
		assets = append(assets,
			AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishFoil, OutputName: prefix + "_foil.png", ExpectedFmt: FormatPNG},
			AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishFoil, OutputName: prefix + "_foil_color.png", ExpectedFmt: FormatPNG},
		)
	}
	if has(classify.FinishUV) {
		assets = append(assets, AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishUV, OutputName: prefix + "_uv.png", ExpectedFmt: FormatPNG})
	}
	if has(classify.FinishEmboss) || has(classify.FinishDeboss) {
		assets = append(assets, AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishEmboss, OutputName: prefix + "_emboss.png", ExpectedFmt: FormatPNG})
	}
	if has(classify.FinishDie) {
		assets = append(assets,
			AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishDie, OutputName: prefix + "_diecut.svg", ExpectedFmt: FormatSVG},
			AssetPlanEntry{CardPrefix: prefix, Finish: classify.FinishDie, OutputName: prefix + "_diecut_mask.png", ExpectedFmt: FormatPNG},
		)
	}
	return assets
}

// EmbossType resolves the manifest's emboss type attribute per spec.md §5's
// open-question decision: emboss wins when both buckets are non-empty.
// Returns ("", false) if neither bucket has items.
func EmbossType(buckets classify.Buckets, side classify.Side, idx int) (string, bool) {
	hasEmboss := len(buckets[classify.BucketKey{Side: side, CardIndex: idx, Finish: classify.FinishEmboss}]) > 0
	hasDeboss := len(buckets[classify.BucketKey{Side: side, CardIndex: idx, Finish: classify.FinishDeboss}]) > 0
	switch {
	case hasEmboss:
		return "emboss", true
	case hasDeboss:
		return "deboss", true
	default:
		return "", false
	}
}
