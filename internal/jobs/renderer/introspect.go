package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cardpipe/cardpipe/internal/domain/doctree"
)

// JSONTreeParser drives the same rasterizer command in "-introspect" mode
// to extract the document's layer/artboard tree ahead of planning. The
// agent writes tree.json to the given output directory; this is the only
// place the pipeline asks the external agent anything beyond §6.4's
// plan/produce protocol, since classification cannot run without a tree.
type JSONTreeParser struct {
	cmdLine string
	workDir string
	timeout time.Duration
}

func NewJSONTreeParser(cmdLine, workDir string) *JSONTreeParser {
	return &JSONTreeParser{cmdLine: cmdLine, workDir: workDir, timeout: 30 * time.Second}
}

func (p *JSONTreeParser) Parse(ctx context.Context, sourcePath string) (*doctree.Document, error) {
	outDir := filepath.Join(p.workDir, filepath.Base(sourcePath)+".introspect")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir introspect dir: %w", err)
	}
	treePath := filepath.Join(outDir, "tree.json")

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cmdLine, "-introspect", sourcePath, treePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("introspection failed: %w; out=%s", err, string(out))
	}

	b, err := os.ReadFile(treePath)
	if err != nil {
		return nil, fmt.Errorf("tree.json not produced: %w", err)
	}
	var doc doctree.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("tree.json malformed: %w", err)
	}
	return &doc, nil
}
