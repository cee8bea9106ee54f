// Package worker implements C5: a single job runner that owns one job's
// working directory end to end, running C1 -> C2 -> C3 -> C4 synchronously
// and reporting progress/terminal state to the registry. Grounded on the
// teacher's ticker-driven dispatch loop and panic-recovery-wrapped handler
// invocation in internal/jobs/worker.go, adapted from DB-polling to
// channel-based dequeue per spec.md §5.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cardpipe/cardpipe/internal/audit"
	"github.com/cardpipe/cardpipe/internal/domain/classify"
	"github.com/cardpipe/cardpipe/internal/domain/doctree"
	"github.com/cardpipe/cardpipe/internal/domain/manifest"
	"github.com/cardpipe/cardpipe/internal/domain/planner"
	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/jobs/renderer"
	"github.com/cardpipe/cardpipe/internal/platform/apierr"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
	"github.com/cardpipe/cardpipe/internal/platform/tracing"
	"github.com/cardpipe/cardpipe/internal/sse"
)

var tracer = tracing.Tracer("cardpipe/worker")

// TreeParser turns a source artwork file into a doctree.Document. The
// default implementation shells out through the same renderer agent that
// produces assets (the agent introspects the file and writes a tree.json
// sidecar); kept as an interface so tests can supply a fixture tree without
// spawning a subprocess.
type TreeParser interface {
	Parse(ctx context.Context, sourcePath string) (*doctree.Document, error)
}

// Pool runs up to N workers pulling from a registry.Registry, each owning
// its own renderer.Driver (the rasterizer is not re-entrant; spec.md §4.6).
type Pool struct {
	log        *logger.Logger
	reg        *registry.Registry
	parser     TreeParser
	rasterCmd  string
	intakeDir  string
	resultDir  string
	jobTimeout time.Duration
	ledger     *audit.Ledger
	diagSheet  bool
	hub        *sse.Hub
}

// Config bundles the Pool's construction parameters.
type Config struct {
	RasterizerCmd  string
	IntakeDir      string
	ResultDir      string
	JobTimeout     time.Duration
	EnableDiagSheet bool
}

func NewPool(log *logger.Logger, reg *registry.Registry, parser TreeParser, ledger *audit.Ledger, hub *sse.Hub, cfg Config) *Pool {
	return &Pool{
		log:        log.With("component", "worker_pool"),
		reg:        reg,
		parser:     parser,
		rasterCmd:  cfg.RasterizerCmd,
		intakeDir:  cfg.IntakeDir,
		resultDir:  cfg.ResultDir,
		jobTimeout: cfg.JobTimeout,
		ledger:     ledger,
		diagSheet:  cfg.EnableDiagSheet,
		hub:        hub,
	}
}

func (p *Pool) publish(jobID string, ev sse.Event, data any) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(sse.Message{JobID: jobID, Event: ev, Data: data})
}

// Start launches reg.Workers() goroutines, each looping Dequeue->run until
// ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.reg.Workers(); i++ {
		go p.loop(ctx, i)
	}
}

func (p *Pool) loop(ctx context.Context, slot int) {
	driver := renderer.New(p.log, p.rasterCmd)
	wlog := p.log.With("worker_slot", slot)
	for {
		rec, ok := p.reg.Dequeue(ctx)
		if !ok {
			return
		}
		p.runJob(ctx, wlog, driver, rec)
		p.reg.ReleaseWorkerSlot()
	}
}

// runJob recovers from classifier/planner panics (the teacher's
// panicError/missingHandlerError pattern in the deleted DB-polling worker)
// so one malformed document can never take down a worker goroutine.
func (p *Pool) runJob(ctx context.Context, wlog *logger.Logger, driver *renderer.Driver, rec *registry.Record) {
	jlog := wlog.With("job_id", rec.ID)
	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	jobCtx, rootSpan := tracer.Start(jobCtx, "job.run")
	rootSpan.SetAttributes(attribute.String("job.id", rec.ID))
	defer rootSpan.End()

	defer func() {
		if r := recover(); r != nil {
			jlog.Error("worker panic recovered", "panic", fmt.Sprintf("%v", r))
			p.writeFailureDiagnostic(rec, apierr.New(apierr.KindInternal, fmt.Errorf("panic: %v", r)))
			rec.Fail(apierr.KindInternal, fmt.Errorf("panic: %v", r))
			p.appendAudit(rec)
		}
	}()

	sourcePath := filepath.Join(p.intakeDir, rec.ID+filepath.Ext(rec.SourceFilename))
	resultDir := filepath.Join(p.resultDir, rec.ID)

	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		p.fail(rec, apierr.New(apierr.KindInternal, err))
		return
	}

	rec.SetProgress(5)
	p.publish(rec.ID, sse.EventProgress, 5)
	parseCtx, parseSpan := tracer.Start(jobCtx, "job.parse")
	doc, err := p.parser.Parse(parseCtx, sourcePath)
	parseSpan.End()
	if err != nil {
		p.fail(rec, apierr.New(apierr.KindInternal, fmt.Errorf("parse document: %w", err)))
		p.purge(resultDir)
		return
	}
	rec.SetProgress(15)
	p.publish(rec.ID, sse.EventProgress, 15)

	if p.checkCancelled(rec, resultDir) {
		return
	}

	_, classifySpan := tracer.Start(jobCtx, "job.classify")
	buckets := classify.Classify(doc)
	classifySpan.End()
	rec.SetProgress(40)
	p.publish(rec.ID, sse.EventProgress, 40)

	activeArtboard := doctree.Rect{}
	if len(doc.Artboards) > 0 {
		activeArtboard = doc.Artboards[0].Bounds
	}
	_, planSpan := tracer.Start(jobCtx, "job.plan")
	plan := planner.Plan(buckets, activeArtboard)
	planSpan.End()
	rec.SetProgress(55)
	p.publish(rec.ID, sse.EventProgress, 55)

	if p.checkCancelled(rec, resultDir) {
		return
	}

	renderCtx, renderSpan := tracer.Start(jobCtx, "job.render")
	renderErr := driver.Run(renderCtx, rec.ID, sourcePath, resultDir, plan)
	renderSpan.End()
	if err := renderErr; err != nil {
		if jobCtx.Err() == context.DeadlineExceeded {
			p.fail(rec, apierr.New(apierr.KindTimeout, jobCtx.Err()))
		} else if ae, ok := apierr.As(err); ok {
			p.fail(rec, ae)
		} else {
			p.fail(rec, apierr.New(apierr.KindRendererFailed, err))
		}
		p.purge(resultDir)
		return
	}
	rec.SetProgress(90)
	p.publish(rec.ID, sse.EventProgress, 90)

	if p.diagSheet {
		if err := renderDiagSheet(resultDir, plan, buckets); err != nil {
			jlog.Warn("diagnostic contact sheet failed", "error", err)
		}
	}

	_, assembleSpan := tracer.Start(jobCtx, "job.assemble")
	m, err := manifest.Assemble(rec.ID, doc, buckets, plan, resultDir)
	assembleSpan.End()
	if err != nil {
		p.fail(rec, apierr.New(apierr.KindInternal, err))
		p.purge(resultDir)
		return
	}
	rec.SetProgress(98)

	rec.Succeed(m, resultDir)
	rec.SetProgress(100)
	p.publish(rec.ID, sse.EventSucceeded, 100)
	p.appendAudit(rec)
}

func (p *Pool) checkCancelled(rec *registry.Record, resultDir string) bool {
	if !p.reg.Cancelled(rec.ID) {
		return false
	}
	rec.Fail(apierr.KindCancelled, nil)
	p.publish(rec.ID, sse.EventFailed, apierr.KindCancelled)
	p.purge(resultDir)
	p.appendAudit(rec)
	return true
}

func (p *Pool) fail(rec *registry.Record, err *apierr.Error) {
	p.writeFailureDiagnostic(rec, err)
	rec.Fail(err.Kind, err.Err)
	p.publish(rec.ID, sse.EventFailed, err.Kind)
	p.appendAudit(rec)
}

// writeFailureDiagnostic writes a short failure.json before the terminal
// transition is observable, per spec.md §4.3 "the worker always writes a
// short failure diagnostic file to the result directory before transitioning."
func (p *Pool) writeFailureDiagnostic(rec *registry.Record, err *apierr.Error) {
	resultDir := filepath.Join(p.resultDir, rec.ID)
	_ = os.MkdirAll(resultDir, 0o755)
	content := fmt.Sprintf(`{"kind":%q,"message":%q}`, err.Kind, err.Error())
	_ = os.WriteFile(filepath.Join(resultDir, "failure.json"), []byte(content), 0o644)
}

// purge clears a partial result directory's contents on cancel/fail so
// workers never leave orphan partial asset files (spec.md §5), but keeps
// failure.json — writeFailureDiagnostic writes it into the same directory,
// and spec.md §7 requires it survive on disk for triage even though the
// rest of a failed job's partial output does not.
func (p *Pool) purge(resultDir string) {
	entries, err := os.ReadDir(resultDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Name() == "failure.json" {
			continue
		}
		_ = os.RemoveAll(filepath.Join(resultDir, e.Name()))
	}
}

func (p *Pool) appendAudit(rec *registry.Record) {
	if p.ledger == nil {
		return
	}
	p.ledger.Append(rec)
}
