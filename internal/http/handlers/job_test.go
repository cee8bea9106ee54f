package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
	"github.com/cardpipe/cardpipe/internal/sse"
)

func newTestHandler(t *testing.T, hmacSecret string) (*JobHandler, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	require.NoError(t, err)

	intakeDir := t.TempDir()
	resultDir := t.TempDir()
	reg := registry.New(1, 4, time.Hour)
	hub := sse.NewHub(log)

	return NewJobHandler(log, reg, hub, intakeDir, resultDir, hmacSecret, 10<<20), intakeDir, resultDir
}

func signedSubmitRequest(t *testing.T, secret string, fileBytes, optionsJSON []byte, ts time.Time, badSig bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", "card.ai")
	require.NoError(t, err)
	_, err = fw.Write(fileBytes)
	require.NoError(t, err)

	require.NoError(t, w.WriteField("options", string(optionsJSON)))
	timestamp := strconv.FormatInt(ts.UnixMilli(), 10)
	require.NoError(t, w.WriteField("timestamp", timestamp))
	require.NoError(t, w.Close())

	fileHash := sha256.Sum256(fileBytes)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(hex.EncodeToString(fileHash[:])))
	mac.Write(optionsJSON)
	mac.Write([]byte(timestamp))
	sig := hex.EncodeToString(mac.Sum(nil))
	if badSig {
		sig = "00" + sig[2:]
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Signature", sig)
	return req
}

func TestSubmitRejectsStaleTimestamp(t *testing.T) {
	h, _, _ := newTestHandler(t, "topsecret")
	opts := []byte(`{"dpi":600}`)
	req := signedSubmitRequest(t, "topsecret", []byte("%PDF fake"), opts, time.Now().Add(-10*time.Minute), false)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	h.Submit(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	h, _, _ := newTestHandler(t, "topsecret")
	opts := []byte(`{"dpi":600}`)
	req := signedSubmitRequest(t, "topsecret", []byte("%PDF fake"), opts, time.Now(), true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	h.Submit(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAcceptsFreshSignatureAndReturnsSpecShape(t *testing.T) {
	h, _, _ := newTestHandler(t, "topsecret")
	opts := []byte(`{"dpi":600}`)
	req := signedSubmitRequest(t, "topsecret", []byte("%PDF fake"), opts, time.Now(), false)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	h.Submit(c)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "jobId")
	assert.Equal(t, "queued", body["status"])
	assert.Contains(t, body, "submittedAt")
	assert.Contains(t, body, "estimatedTime")
}

func TestSubmitRejectsUnsupportedFileExtension(t *testing.T) {
	h, _, _ := newTestHandler(t, "")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "resume.docx")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not artwork"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	c.Request.Header.Set("Content-Type", w.FormDataContentType())
	h.Submit(c)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAssetSetsCacheHeadersAndHonorsIfNoneMatch(t *testing.T) {
	h, _, resultDir := newTestHandler(t, "")
	id := "job-123"
	require.NoError(t, os.MkdirAll(filepath.Join(resultDir, id), 0o755))
	assetPath := filepath.Join(resultDir, id, "front_layer_0_albedo.png")
	require.NoError(t, os.WriteFile(assetPath, []byte("fakepng"), 0o644))

	_, err := h.reg.Submit(id, "card.ai", 1, registry.Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/assets/front_layer_0_albedo.png", nil)
	c.Params = gin.Params{{Key: "id", Value: id}, {Key: "name", Value: "front_layer_0_albedo.png"}}
	h.Asset(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(rec2)
	c2.Request = httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/assets/front_layer_0_albedo.png", nil)
	c2.Request.Header.Set("If-None-Match", etag)
	c2.Params = gin.Params{{Key: "id", Value: id}, {Key: "name", Value: "front_layer_0_albedo.png"}}
	h.Asset(c2)

	assert.Equal(t, http.StatusNotModified, rec2.Code)
}

func TestAssetRejectsPathTraversal(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/jobs/x/assets/..%2Fsecret", nil)
	c.Params = gin.Params{{Key: "id", Value: "x"}, {Key: "name", Value: "../secret"}}
	h.Asset(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
