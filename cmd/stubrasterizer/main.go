// Command stubrasterizer is a local development/test stand-in for the real
// Illustrator-scripting agent. It implements spec.md §6.4's descriptor
// protocol (job.descriptor in, per-effect PNG/SVG assets plus
// diagnostics.json out, {job_id}_done.txt / {job_id}_error.json as the
// completion signal) and an "-introspect" mode that emits a doctree.Document
// as tree.json, standing in for whatever extracts layer structure from the
// real .ai/.pdf file (SPEC_FULL.md §4 item 6).
package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/ajstarks/svgo"

	"github.com/cardpipe/cardpipe/internal/domain/doctree"
)

type planStep struct {
	CardPrefix string     `json:"card_prefix"`
	CropPt     [4]float64 `json:"crop_pt"`
	Produce    []string   `json:"produce"`
}

type descriptor struct {
	JobID  string     `json:"job_id"`
	Input  string      `json:"input"`
	Output string      `json:"output"`
	Plan   []planStep `json:"plan"`
}

func main() {
	if len(os.Args) >= 4 && os.Args[1] == "-introspect" {
		if err := introspect(os.Args[2], os.Args[3]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: stubrasterizer <job.descriptor>")
		os.Exit(2)
	}
	if err := render(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// introspect writes a small fixture tree for sourcePath: one artboard, one
// front card with a print/foil/die layer each. Real extraction is out of
// scope for the stub; it exists so the pipeline can be driven end to end in
// development without Illustrator installed.
func introspect(sourcePath, treePath string) error {
	doc := doctree.Document{
		Name:     filepath.Base(sourcePath),
		FullName: sourcePath,
		Artboards: []doctree.Artboard{
			{Name: "Card 1 Front", Index: 0, Bounds: doctree.Rect{L: 0, T: 0, R: 252, B: 144}},
		},
		Layers: []*doctree.Layer{
			{
				Name:    "Card 1 Front",
				Visible: true,
				SubLayers: []*doctree.Layer{
					{Name: "Print", Visible: true, Drawables: []*doctree.Drawable{
						{Name: "Print_Base", Type: "path", Visible: true, Opacity: 1, Bounds: doctree.Rect{L: 0, T: 0, R: 252, B: 144}},
					}},
					{Name: "Foil", Visible: true, Drawables: []*doctree.Drawable{
						{Name: "Foil_Logo", Type: "path", Visible: true, Opacity: 1, Bounds: doctree.Rect{L: 20, T: 20, R: 80, B: 60}},
					}},
					{Name: "Die_Cut", Visible: true, Drawables: []*doctree.Drawable{
						{Name: "Die_Cut", Type: "path", Visible: false, Opacity: 1, Bounds: doctree.Rect{L: 0, T: 0, R: 252, B: 144}},
					}},
				},
			},
		},
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal introspection tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(treePath), 0o755); err != nil {
		return fmt.Errorf("mkdir tree.json dir: %w", err)
	}
	return os.WriteFile(treePath, b, 0o644)
}

func render(descPath string) error {
	b, err := os.ReadFile(descPath)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	var d descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("parse descriptor: %w", err)
	}

	bucketCounts := map[string]int{}
	for _, step := range d.Plan {
		w := int(step.CropPt[2] - step.CropPt[0])
		h := int(step.CropPt[3] - step.CropPt[1])
		if w <= 0 {
			w = 1
		}
		if h <= 0 {
			h = 1
		}
		for _, kind := range step.Produce {
			bucketCounts[kind]++
			if err := writeAsset(d.Output, step.CardPrefix, kind, w, h); err != nil {
				return writeErrorFile(d.Output, d.JobID, "write_failed", err)
			}
		}
	}

	diagPath := filepath.Join(d.Output, "diagnostics.json")
	diagBytes, _ := json.MarshalIndent(map[string]any{"bucket_counts": bucketCounts}, "", "  ")
	if err := os.WriteFile(diagPath, diagBytes, 0o644); err != nil {
		return writeErrorFile(d.Output, d.JobID, "write_failed", err)
	}

	donePath := filepath.Join(d.Output, d.JobID+"_done.txt")
	return os.WriteFile(donePath, []byte("ok\n"), 0o644)
}

// writeAsset emits every file the planner expects for one produce "kind" —
// kinds are deduped per card (see renderer.BuildDescriptor), so a single
// "foil" entry still has to yield both the foil mask and its color map, and
// "diecut" both the cut SVG and its mask PNG.
func writeAsset(outDir, prefix, kind string, w, h int) error {
	switch kind {
	case "foil":
		if err := writePNG(outDir, prefix+"_foil.png", w, h); err != nil {
			return err
		}
		return writePNG(outDir, prefix+"_foil_color.png", w, h)
	case "diecut":
		return writeDiecutSVG(outDir, prefix, w, h)
	default:
		return writePNG(outDir, fmt.Sprintf("%s_%s.png", prefix, kind), w, h)
	}
}

func writePNG(outDir, name string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(outDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeDiecutSVG(outDir, prefix string, w, h int) error {
	f, err := os.Create(filepath.Join(outDir, prefix+"_diecut.svg"))
	if err != nil {
		return err
	}
	defer f.Close()
	canvas := svg.New(f)
	canvas.Start(w, h)
	canvas.Rect(0, 0, w, h, "fill:none;stroke:black;stroke-width:1")
	canvas.End()

	mask, err := os.Create(filepath.Join(outDir, prefix+"_diecut_mask.png"))
	if err != nil {
		return err
	}
	defer mask.Close()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return png.Encode(mask, img)
}

func writeErrorFile(outDir, jobID, code string, cause error) error {
	errPath := filepath.Join(outDir, jobID+"_error.json")
	b, _ := json.Marshal(map[string]string{"code": code, "message": cause.Error()})
	_ = os.WriteFile(errPath, b, 0o644)
	return cause
}
