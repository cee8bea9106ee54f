package worker

import (
	"fmt"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/cardpipe/cardpipe/internal/domain/classify"
	"github.com/cardpipe/cardpipe/internal/domain/planner"
)

// renderDiagSheet draws every card's crop rectangle plus its finish-bucket
// counts onto one annotated PNG, gated behind ENABLE_DIAG_SHEET
// (SPEC_FULL.md §4 item 5). Never referenced by manifest maps/geometry —
// purely a human-debugging aid.
func renderDiagSheet(resultDir string, plan planner.Plan, buckets classify.Buckets) error {
	if len(plan.Cards) == 0 {
		return nil
	}

	const cellW, cellH = 400.0, 260.0
	cols := 3
	rows := (len(plan.Cards) + cols - 1) / cols

	dc := gg.NewContext(cols*int(cellW), rows*int(cellH))
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	// Best-effort: fall back to gg's builtin bitmap font when no system
	// truetype font is available (LoadFontFace uses golang/freetype).
	for _, path := range []string{"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf", "/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf"} {
		if err := dc.LoadFontFace(path, 14); err == nil {
			break
		}
	}

	for i, card := range plan.Cards {
		col := i % cols
		row := i / cols
		ox := float64(col) * cellW
		oy := float64(row) * cellH

		dc.SetRGB(0.85, 0.85, 0.9)
		dc.DrawRectangle(ox+10, oy+10, cellW-20, cellH-40)
		dc.Fill()

		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawRectangle(ox+10, oy+10, cellW-20, cellH-40)
		dc.SetLineWidth(2)
		dc.Stroke()

		dc.SetRGB(0, 0, 0)
		label := fmt.Sprintf("%s  crop=%.0fx%.0fpt", card.Prefix, card.Crop.Width(), card.Crop.Height())
		dc.DrawStringAnchored(label, ox+cellW/2, oy+cellH-20, 0.5, 0.5)

		y := oy + 30.0
		for _, f := range []classify.Finish{classify.FinishPrint, classify.FinishFoil, classify.FinishUV, classify.FinishEmboss, classify.FinishDeboss, classify.FinishDie} {
			count := len(buckets[classify.BucketKey{Side: card.Side, CardIndex: card.CardIndex, Finish: f}])
			if count == 0 {
				continue
			}
			dc.DrawStringAnchored(fmt.Sprintf("%s: %d", f, count), ox+20, y, 0, 0.5)
			y += 16
		}
	}

	return dc.SavePNG(filepath.Join(resultDir, "_diagnostics.png"))
}
