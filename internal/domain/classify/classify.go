// Package classify implements C1: a pure function mapping a document tree
// to buckets keyed by (side, card_index, finish).
package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cardpipe/cardpipe/internal/domain/doctree"
)

// Side is the card face a classified item belongs to.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// Finish is a print-production class.
type Finish string

const (
	FinishPrint  Finish = "print"
	FinishFoil   Finish = "foil"
	FinishUV     Finish = "uv"
	FinishEmboss Finish = "emboss"
	FinishDeboss Finish = "deboss"
	FinishDie    Finish = "die"
)

// finishPrecedence is highest-first: die > emboss > deboss > foil > uv > print.
var finishPrecedence = []Finish{FinishDie, FinishEmboss, FinishDeboss, FinishFoil, FinishUV, FinishPrint}

var dieTokens = []string{"laser_cut", "laser-cut", "laser", "cutline", "cut_line", "die_cut", "die-cut", "diecut"}
var uvTokens = []string{"spot_uv", "spot-uv", "spotuv", "varnish", "gloss", "matte", "lamination", "raised_uv"}

var bareDieRe = regexp.MustCompile(`(?:^|[_\-\s])die(?:$|[_\-\s])`)
var uvIsolatedRe = regexp.MustCompile(`(?:^|[_\-\s])uv(?:$|[_\-\s])`)
var cardLayerRe = regexp.MustCompile(`(front|back)_layer_(\d+)`)
var trailingIndexRe = regexp.MustCompile(`_(\d+)`)

// finishOf returns the finish class matched by a single normalized name, or
// ("", false) if none matches. Applies the die > emboss > deboss > foil > uv
// precedence when multiple classes match the same name.
func finishOf(name string) (Finish, bool) {
	n := strings.ToLower(name)
	for _, f := range finishPrecedence {
		if f == FinishPrint {
			continue
		}
		if matchesFinish(n, f) {
			return f, true
		}
	}
	return "", false
}

func matchesFinish(n string, f Finish) bool {
	switch f {
	case FinishDie:
		for _, t := range dieTokens {
			if strings.Contains(n, t) {
				return true
			}
		}
		return bareDieRe.MatchString(n)
	case FinishEmboss:
		return strings.Contains(n, "emboss")
	case FinishDeboss:
		return strings.Contains(n, "deboss")
	case FinishFoil:
		return strings.Contains(n, "foil")
	case FinishUV:
		for _, t := range uvTokens {
			if strings.Contains(n, t) {
				return true
			}
		}
		return uvIsolatedRe.MatchString(n)
	}
	return false
}

// BucketKey identifies one classification bucket.
type BucketKey struct {
	Side      Side
	CardIndex int
	Finish    Finish
}

// Item is a drawable plus its resolved bucket key.
type Item struct {
	Key      BucketKey
	Drawable *doctree.Drawable
}

// Buckets maps a bucket key to its ordered, classified items.
type Buckets map[BucketKey][]Item

// hiddenAllowedFinishes lists finishes whose geometry matters even when the
// author hid the drawable (phantom die guides, spot layers toggled off for
// proofing). Per spec.md §5 Open Question decisions, hidden items are kept
// and surfaced with a per-item Hidden flag rather than reclassified away.
var hiddenAllowedFinishes = map[Finish]bool{
	FinishDie:   true,
	FinishPrint: true,
	FinishUV:    true,
	FinishFoil:  true,
}

// Classify runs the C1 algorithm: tokenize, resolve side/card/finish per
// drawable via a single pre-order walk, apply the visibility filter, and
// emit into ordered per-bucket lists. Deterministic and side-effect free;
// never fails — ambiguous names fall through to defaults.
func Classify(doc *doctree.Document) Buckets {
	buckets := Buckets{}
	entries := doctree.Walk(doc)
	for _, e := range entries {
		finish := resolveFinish(e.Ancestors)
		side := resolveSide(doc, e.Ancestors, e.Drawable)
		cardIndex := resolveCardIndex(e.Ancestors)

		if !e.Drawable.Visible && !hiddenAllowedFinishes[finish] {
			continue
		}

		key := BucketKey{Side: side, CardIndex: cardIndex, Finish: finish}
		buckets[key] = append(buckets[key], Item{Key: key, Drawable: e.Drawable})
	}
	return buckets
}

// resolveFinish walks the ancestor chain deepest-first and returns the first
// matching finish class, defaulting to print.
func resolveFinish(ancestors []string) Finish {
	for i := len(ancestors) - 1; i >= 0; i-- {
		if f, ok := finishOf(ancestors[i]); ok {
			return f
		}
	}
	return FinishPrint
}

// resolveCardIndex searches the ancestor chain deepest-first for
// (front|back)_layer_(\d+); failing that, for the first _(\d+) anywhere in an
// ancestor name. Defaults to 0.
func resolveCardIndex(ancestors []string) int {
	for i := len(ancestors) - 1; i >= 0; i-- {
		n := strings.ToLower(ancestors[i])
		if m := cardLayerRe.FindStringSubmatch(n); m != nil {
			if idx, err := strconv.Atoi(m[2]); err == nil {
				return idx
			}
		}
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		n := strings.ToLower(ancestors[i])
		if m := trailingIndexRe.FindStringSubmatch(n); m != nil {
			if idx, err := strconv.Atoi(m[1]); err == nil {
				return idx
			}
		}
	}
	return 0
}

// resolveSide implements the three-step cascade: explicit ancestor marker,
// then greatest-overlap artboard's own name marker, then artboard X-order,
// defaulting to front.
func resolveSide(doc *doctree.Document, ancestors []string, d *doctree.Drawable) Side {
	for i := len(ancestors) - 1; i >= 0; i-- {
		n := strings.ToLower(ancestors[i])
		if strings.Contains(n, "front") {
			return SideFront
		}
		if strings.Contains(n, "back") {
			return SideBack
		}
	}

	if len(doc.Artboards) == 0 {
		return SideFront
	}

	best := -1
	bestArea := -1.0
	for i, ab := range doc.Artboards {
		inter := intersectArea(ab.Bounds, d.Bounds)
		if inter > bestArea {
			bestArea = inter
			best = i
		}
	}
	if best >= 0 {
		n := strings.ToLower(doc.Artboards[best].Name)
		if strings.Contains(n, "front") {
			return SideFront
		}
		if strings.Contains(n, "back") {
			return SideBack
		}
	}

	ordered := make([]doctree.Artboard, len(doc.Artboards))
	copy(ordered, doc.Artboards)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Bounds.CenterX() < ordered[j].Bounds.CenterX()
	})
	if len(ordered) > 0 {
		if best >= 0 && doc.Artboards[best].Index == ordered[0].Index {
			return SideFront
		}
		if best >= 0 && doc.Artboards[best].Index == ordered[len(ordered)-1].Index {
			return SideBack
		}
	}
	return SideFront
}

func intersectArea(a, b doctree.Rect) float64 {
	l := max(a.L, b.L)
	t := max(a.T, b.T)
	r := min(a.R, b.R)
	btm := min(a.B, b.B)
	w := r - l
	h := btm - t
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// SortedKeys returns the bucket keys in a deterministic order: side
// (front before back), then card_index ascending, then finish precedence.
func SortedKeys(b Buckets) []BucketKey {
	keys := make([]BucketKey, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, c := keys[i], keys[j]
		if a.Side != c.Side {
			return a.Side == SideFront
		}
		if a.CardIndex != c.CardIndex {
			return a.CardIndex < c.CardIndex
		}
		return finishRank(a.Finish) < finishRank(c.Finish)
	})
	return keys
}

func finishRank(f Finish) int {
	for i, p := range finishPrecedence {
		if p == f {
			return i
		}
	}
	return len(finishPrecedence)
}
