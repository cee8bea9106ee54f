// Package handlers implements C7: the intake gateway's HTTP surface —
// submit, status, result, and asset retrieval (spec.md §6.1).
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/image/draw"

	"github.com/cardpipe/cardpipe/internal/domain/manifest"
	"github.com/cardpipe/cardpipe/internal/http/middleware"
	"github.com/cardpipe/cardpipe/internal/http/response"
	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/platform/apierr"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
	"github.com/cardpipe/cardpipe/internal/sse"
)

// JobHandler wires the registry, on-disk directories, and the signing
// secret into gin handlers.
type JobHandler struct {
	log            *logger.Logger
	reg            *registry.Registry
	hub            *sse.Hub
	intakeDir      string
	resultDir      string
	hmacSecret     string
	maxUploadBytes int64
}

func NewJobHandler(log *logger.Logger, reg *registry.Registry, hub *sse.Hub, intakeDir, resultDir, hmacSecret string, maxUploadBytes int64) *JobHandler {
	return &JobHandler{
		log:            log.With("handler", "job"),
		reg:            reg,
		hub:            hub,
		intakeDir:      intakeDir,
		resultDir:      resultDir,
		hmacSecret:     hmacSecret,
		maxUploadBytes: maxUploadBytes,
	}
}

// avgJobSeconds is a rough per-job duration estimate used only to compute
// the Submit response's estimatedTime field; spec.md §6.1 names the field
// but does not define its derivation.
const avgJobSeconds = 20

// submitOptions is the JSON body of the "options" multipart field
// (spec.md §6.1 "a small JSON options blob alongside the file").
type submitOptions struct {
	DPI           int  `json:"dpi"`
	ExtractVector bool `json:"extractVector"`
	EnableOCG     bool `json:"enableOcg"`
}

// Submit handles POST /jobs: a multipart upload carrying the source
// artwork, a JSON options blob, and an HMAC signature over the two plus a
// caller-supplied timestamp (spec.md §6.2).
func (h *JobHandler) Submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, apierr.New(apierr.KindInvalidRequest, fmt.Errorf("missing file: %w", err)))
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		response.RespondError(c, apierr.New(apierr.KindPayloadTooLarge, nil))
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext != ".ai" && ext != ".pdf" {
		response.RespondError(c, apierr.New(apierr.KindUnsupportedType, fmt.Errorf("unsupported extension %q", ext)))
		return
	}

	optionsRaw := []byte(c.PostForm("options"))
	if len(optionsRaw) == 0 {
		optionsRaw = []byte("{}")
	}
	var opts submitOptions
	if err := json.Unmarshal(optionsRaw, &opts); err != nil {
		response.RespondError(c, apierr.New(apierr.KindInvalidRequest, fmt.Errorf("malformed options: %w", err)))
		return
	}
	if opts.DPI == 0 {
		opts.DPI = 600
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, apierr.New(apierr.KindInternal, err))
		return
	}
	defer f.Close()
	fileBytes, err := io.ReadAll(f)
	if err != nil {
		response.RespondError(c, apierr.New(apierr.KindInvalidRequest, err))
		return
	}

	if h.hmacSecret != "" {
		timestamp := c.PostForm("timestamp")
		sig := c.GetHeader("X-Signature")
		if sig == "" || !withinSignatureWindow(timestamp) || !middleware.VerifySignature(h.hmacSecret, fileBytes, optionsRaw, timestamp, sig) {
			response.RespondError(c, apierr.New(apierr.KindUnauthorized, nil))
			return
		}
	}

	id := registry.NewJobID()
	if err := os.MkdirAll(h.intakeDir, 0o755); err != nil {
		response.RespondError(c, apierr.New(apierr.KindInternal, err))
		return
	}
	destPath := filepath.Join(h.intakeDir, id+ext)
	if err := os.WriteFile(destPath, fileBytes, 0o644); err != nil {
		response.RespondError(c, apierr.New(apierr.KindInternal, err))
		return
	}

	rec, err := h.reg.Submit(id, fileHeader.Filename, fileHeader.Size, registry.Options{
		DPI:           opts.DPI,
		ExtractVector: opts.ExtractVector,
		EnableOCG:     opts.EnableOCG,
	})
	if err != nil {
		_ = os.Remove(destPath)
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":         rec.ID,
		"status":        "queued",
		"submittedAt":   rec.SubmittedAt,
		"estimatedTime": h.reg.QueueDepth() * avgJobSeconds,
	})
}

// Status handles GET /status/:id.
func (h *JobHandler) Status(c *gin.Context) {
	view, err := h.reg.Status(c.Param("id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}

// Result handles GET /jobs/:id/result.json, adapting the stored v3
// manifest into the consumer shape (C8) before serving it.
func (h *JobHandler) Result(c *gin.Context) {
	m, err := h.reg.Result(c.Param("id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, manifest.Adapt(m))
}

// assetContentTypes names the extensions spec.md §6.1 gives a standard MIME
// type; anything else falls back to application/octet-stream.
var assetContentTypes = map[string]string{
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".pdf":  "application/pdf",
	".json": "application/json",
}

// Asset handles GET /jobs/:id/assets/:name, streaming a produced file from
// the job's result directory. Sets the Content-Type/Cache-Control/ETag
// triple spec.md §6.1 names and honors If-None-Match with a 304. ?thumb=1
// downsamples PNG assets so their longer side is at most thumbMaxDim pixels,
// keeping the aspect ratio, so the browser previewer
// never needs to fetch full-resolution maps just to draw a card-list entry
// (SPEC_FULL.md §4 item 4); the cache contract above applies only to the
// full-resolution stream it supplements.
func (h *JobHandler) Asset(c *gin.Context) {
	id := c.Param("id")
	name := c.Param("name")
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		response.RespondError(c, apierr.New(apierr.KindInvalidRequest, fmt.Errorf("invalid asset name %q", name)))
		return
	}

	if h.reg.Get(id) == nil {
		response.RespondError(c, apierr.New(apierr.KindNotFound, nil).WithJobID(id))
		return
	}
	full := filepath.Join(h.resultDir, id, name)
	if _, err := os.Stat(full); err != nil {
		response.RespondError(c, apierr.New(apierr.KindNotFound, err).WithJobID(id))
		return
	}

	if c.Query("thumb") != "" && strings.HasSuffix(strings.ToLower(name), ".png") {
		h.serveThumbnail(c, full)
		return
	}

	etag := fmt.Sprintf("%q", id+"-"+name)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	contentType := assetContentTypes[strings.ToLower(filepath.Ext(name))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("ETag", etag)
	c.File(full)
}

// signatureWindow is the clock-skew tolerance spec.md §6.1/§6.2 allow
// between the client's submitted timestamp and server time.
const signatureWindow = 300 * time.Second

// withinSignatureWindow parses rawMS as decimal milliseconds since the Unix
// epoch and reports whether it falls within signatureWindow of now.
func withinSignatureWindow(rawMS string) bool {
	ms, err := strconv.ParseInt(strings.TrimSpace(rawMS), 10, 64)
	if err != nil {
		return false
	}
	sent := time.UnixMilli(ms)
	delta := time.Since(sent)
	if delta < 0 {
		delta = -delta
	}
	return delta <= signatureWindow
}

const thumbMaxDim = 256

func (h *JobHandler) serveThumbnail(c *gin.Context, full string) {
	f, err := os.Open(full)
	if err != nil {
		response.RespondError(c, apierr.New(apierr.KindInternal, err))
		return
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		response.RespondError(c, apierr.New(apierr.KindInternal, fmt.Errorf("decode asset for thumbnail: %w", err)))
		return
	}

	sb := src.Bounds()
	scale := 1.0
	if sb.Dx() > sb.Dy() && sb.Dx() > thumbMaxDim {
		scale = float64(thumbMaxDim) / float64(sb.Dx())
	} else if sb.Dy() >= sb.Dx() && sb.Dy() > thumbMaxDim {
		scale = float64(thumbMaxDim) / float64(sb.Dy())
	}
	dw := int(float64(sb.Dx()) * scale)
	dh := int(float64(sb.Dy()) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		response.RespondError(c, apierr.New(apierr.KindInternal, err))
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Cancel handles POST /jobs/:id/cancel.
func (h *JobHandler) Cancel(c *gin.Context) {
	if err := h.reg.Cancel(c.Param("id")); err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": c.Param("id"), "cancelled": true})
}

// Events handles GET /jobs/:id/events, an SSE stream of progress/terminal
// frames for the previewer's progress UI (SPEC_FULL.md §4 item 2). A job
// that already reached a terminal state before the client subscribed would
// otherwise never publish again, leaving the stream to idle on heartbeats
// forever — so a late subscriber gets one synthetic frame reflecting the
// job's current snapshot before Serve blocks on the hub.
func (h *JobHandler) Events(c *gin.Context) {
	id := c.Param("id")
	view, err := h.reg.Status(id)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	client := h.hub.NewClient(id)
	h.hub.Subscribe(client)
	defer h.hub.Close(client)

	if view.State.Terminal() {
		ev := sse.EventFailed
		if view.State == registry.StateSucceeded {
			ev = sse.EventSucceeded
		}
		client.Outbound <- sse.Message{JobID: id, Event: ev, Data: view.Progress}
	}
	h.hub.Serve(c.Writer, c.Request, client)
}

func (h *JobHandler) respondErr(c *gin.Context, err error) {
	if ae, ok := apierr.As(err); ok {
		response.RespondError(c, ae)
		return
	}
	response.RespondError(c, apierr.New(apierr.KindInternal, err))
}
