// Package renderer implements C3: it drives the external Illustrator-
// scripting agent as an opaque subprocess, using the job-descriptor /
// done-file protocol in spec.md §6.4. Grounded on the teacher's
// localmedia.Tools exec.CommandContext + timeout + CombinedOutput pattern,
// generalized from a fixed binary roster (soffice/pdftoppm/ffmpeg) to a
// single configurable rasterizer command.
package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/cardpipe/cardpipe/internal/domain/planner"
	"github.com/cardpipe/cardpipe/internal/platform/apierr"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
	"github.com/cardpipe/cardpipe/internal/platform/tracing"
)

var tracer = tracing.Tracer("cardpipe/renderer")

// PlanStep is one entry of the job.descriptor's plan array.
type PlanStep struct {
	CardPrefix string    `json:"card_prefix" yaml:"card_prefix"`
	CropPt     [4]float64 `json:"crop_pt" yaml:"crop_pt"`
	Produce    []string  `json:"produce" yaml:"produce"`
}

// Descriptor is the job.descriptor JSON handed to the external agent.
type Descriptor struct {
	JobID  string     `json:"job_id" yaml:"job_id"`
	Input  string     `json:"input" yaml:"input"`
	Output string     `json:"output" yaml:"output"`
	Plan   []PlanStep `json:"plan" yaml:"plan"`
}

// agentError is the shape of "{job_id}_error.json" written by the agent on
// failure (spec.md §6.4).
type agentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Driver invokes the external rasterizer. One Driver instance belongs to
// exactly one worker and must never be shared, since the rasterizer is not
// assumed re-entrant (spec.md §4.6 "at most one concurrent rasterizer per
// worker").
type Driver struct {
	log     *logger.Logger
	cmdLine string
	pollEvery time.Duration
}

// New constructs a Driver that shells out to cmdLine (RASTERIZER_CMD),
// appending the descriptor path as its sole argument.
func New(log *logger.Logger, cmdLine string) *Driver {
	return &Driver{
		log:       log.With("component", "renderer_driver"),
		cmdLine:   cmdLine,
		pollEvery: 250 * time.Millisecond,
	}
}

func assetsForFinish(e planner.AssetPlanEntry) string {
	switch e.Finish {
	case "print":
		return "albedo"
	case "foil":
		return "foil"
	case "uv":
		return "uv"
	case "emboss", "deboss":
		return "emboss"
	case "die":
		return "diecut"
	default:
		return "albedo"
	}
}

// BuildDescriptor translates a planner.Plan into the wire descriptor shape.
func BuildDescriptor(jobID, input, output string, plan planner.Plan) Descriptor {
	d := Descriptor{JobID: jobID, Input: input, Output: output}
	for _, card := range plan.Cards {
		seen := map[string]bool{}
		var produce []string
		for _, a := range card.Assets {
			p := assetsForFinish(a)
			if !seen[p] {
				seen[p] = true
				produce = append(produce, p)
			}
		}
		d.Plan = append(d.Plan, PlanStep{
			CardPrefix: card.Prefix,
			CropPt:     [4]float64{card.Crop.L, card.Crop.T, card.Crop.R, card.Crop.B},
			Produce:    produce,
		})
	}
	return d
}

// Run writes job.descriptor to outputDir, spawns the rasterizer, and waits
// (polling for the done/error sentinel files) until completion, ctx
// cancellation, or timeout. It then asserts every planned asset exists and
// is non-empty.
func (d *Driver) Run(ctx context.Context, jobID, input, outputDir string, plan planner.Plan) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return apierr.New(apierr.KindInternal, fmt.Errorf("mkdir output dir: %w", err))
	}

	descriptor := BuildDescriptor(jobID, input, outputDir, plan)
	descPath := filepath.Join(outputDir, "job.descriptor")
	if err := writeJSON(descPath, descriptor); err != nil {
		return apierr.New(apierr.KindInternal, fmt.Errorf("write job.descriptor: %w", err))
	}
	if err := writeYAMLDiagnostics(outputDir, descriptor); err != nil {
		d.log.Warn("failed to write diagnostics.yaml sidecar", "error", err, "job_id", jobID)
	}

	ctx, span := tracer.Start(ctx, "renderer.invoke")
	span.SetAttributes(attribute.String("job.id", jobID), attribute.Int("renderer.cards", len(plan.Cards)))
	defer span.End()

	args := []string{descPath}
	cmd := exec.CommandContext(ctx, d.cmdLine, args...)
	if err := cmd.Start(); err != nil {
		return apierr.New(apierr.KindRendererFailed, fmt.Errorf("spawn rasterizer: %w", err))
	}

	doneFile := filepath.Join(outputDir, jobID+"_done.txt")
	errorFile := filepath.Join(outputDir, jobID+"_error.json")

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			killProcess(cmd)
			<-waitErr
			return apierr.New(apierr.KindTimeout, ctx.Err()).WithJobID(jobID)
		case err := <-waitErr:
			if err != nil {
				return apierr.New(apierr.KindRendererFailed, fmt.Errorf("rasterizer exited non-zero: %w", err)).WithJobID(jobID)
			}
			return d.finish(jobID, outputDir, doneFile, errorFile, plan)
		case <-ticker.C:
			if fileExists(errorFile) {
				killProcess(cmd)
				<-waitErr
				var ae agentError
				_ = readJSON(errorFile, &ae)
				return apierr.New(apierr.KindRendererFailed, fmt.Errorf("%s: %s", ae.Code, ae.Message)).WithJobID(jobID)
			}
			if fileExists(doneFile) {
				killProcess(cmd)
				<-waitErr
				return d.finish(jobID, outputDir, doneFile, errorFile, plan)
			}
		}
	}
}

func (d *Driver) finish(jobID, outputDir, doneFile, errorFile string, plan planner.Plan) error {
	if fileExists(errorFile) {
		var ae agentError
		_ = readJSON(errorFile, &ae)
		return apierr.New(apierr.KindRendererFailed, fmt.Errorf("%s: %s", ae.Code, ae.Message)).WithJobID(jobID)
	}
	if !fileExists(doneFile) {
		return apierr.New(apierr.KindRendererIncomplete, fmt.Errorf("rasterizer exited without writing %s", filepath.Base(doneFile))).WithJobID(jobID)
	}
	for _, card := range plan.Cards {
		for _, a := range card.Assets {
			full := filepath.Join(outputDir, a.OutputName)
			info, err := os.Stat(full)
			if err != nil || info.Size() == 0 {
				return apierr.New(apierr.KindRendererIncomplete, fmt.Errorf("expected output missing or empty: %s", a.OutputName)).WithJobID(jobID)
			}
		}
	}
	return nil
}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() >= 0
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// writeYAMLDiagnostics writes a human-triage sidecar next to the JSON
// descriptor (SPEC_FULL.md §3 domain-stack wiring for gopkg.in/yaml.v3).
func writeYAMLDiagnostics(outputDir string, d Descriptor) error {
	b, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "diagnostics.yaml"), b, 0o644)
}

// AssertBinaryReady checks that the configured rasterizer command resolves
// on PATH (or is an absolute/relative executable path), matching the
// teacher's assertBinary pre-flight check.
func AssertBinaryReady(cmdLine string) error {
	if cmdLine == "" {
		return fmt.Errorf("RASTERIZER_CMD is empty")
	}
	if _, err := exec.LookPath(cmdLine); err != nil {
		if _, statErr := os.Stat(cmdLine); statErr != nil {
			return fmt.Errorf("rasterizer command %q not found: %w", cmdLine, err)
		}
	}
	return nil
}
