package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/predict"
	"github.com/nutriscan/nutriscan/internal/saliency"
)

const res = 32

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	m, err := model.Build(res, model.WithSeed(9))
	require.NoError(t, err)
	pre, err := imageio.New(res, imageio.Nearest)
	require.NoError(t, err)
	p, err := predict.New(m, pre)
	require.NoError(t, err)
	e, err := saliency.New(m, pre)
	require.NoError(t, err)

	dir := t.TempDir()
	return New(p, e, WithUploadDir(dir), WithVersion("1.2.3"), WithMaxUploadSize(1<<20)), dir
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(3 * x), G: uint8(5 * y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, url, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func assertNoStagedFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPredict(t *testing.T) {
	s, dir := newTestServer(t)
	w := serve(s, upload(t, "/predict/", "file", "child.png", pngBytes(t, 60, 45)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		Prediction string  `json:"prediction"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.GreaterOrEqual(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
	assert.InDelta(t, got.Confidence, round4(float32(got.Confidence)), 1e-9)
	if got.Confidence < 0.5 {
		assert.Equal(t, "MALNUTRITION", got.Prediction)
	} else {
		assert.Equal(t, "NUTRITION", got.Prediction)
	}
	assertNoStagedFiles(t, dir)
}

func TestPredict_MissingField(t *testing.T) {
	s, _ := newTestServer(t)
	w := serve(s, upload(t, "/predict/", "image", "x.png", pngBytes(t, 4, 4)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestPredict_UndecodableImage(t *testing.T) {
	s, dir := newTestServer(t)
	w := serve(s, upload(t, "/predict/", "file", "x.jpg", []byte("definitely not a jpeg")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Contains(t, got["error"], "unreadable image")
	assertNoStagedFiles(t, dir)
}

func TestPredict_TooLarge(t *testing.T) {
	s, _ := newTestServer(t)
	s.maxUpload = 10
	w := serve(s, upload(t, "/predict/", "file", "x.png", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPredict_BodyCappedWhileParsing(t *testing.T) {
	s, dir := newTestServer(t)
	s.maxUpload = 10
	big := bytes.Repeat([]byte{0xAB}, 4*multipartSlack)
	w := serve(s, upload(t, "/predict/", "file", "x.png", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assertNoStagedFiles(t, dir)
}

func TestPredict_FailedSaveLeavesNoFile(t *testing.T) {
	s, dir := newTestServer(t)
	s.save = func(_ *gin.Context, _ *multipart.FileHeader, dst string) error {
		require.NoError(t, os.WriteFile(dst, []byte("partial"), 0o644))
		return errors.New("disk full")
	}
	w := serve(s, upload(t, "/predict/", "file", "x.png", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assertNoStagedFiles(t, dir)
}

func TestExplain(t *testing.T) {
	s, dir := newTestServer(t)
	w := serve(s, upload(t, "/explain/", "file", "child.png", pngBytes(t, 40, 40)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "conv2d_2", w.Header().Get("X-Saliency-Layer"))
	assert.Contains(t, []string{"MALNUTRITION", "NUTRITION"}, w.Header().Get("X-Prediction"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, res, res), img.Bounds())
	assertNoStagedFiles(t, dir)
}

func TestHealthAndModel(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "1.2.3", health["version"])

	w = serve(s, httptest.NewRequest(http.MethodGet, "/model", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Resolution    int      `json:"resolution"`
		Labels        []string `json:"labels"`
		SaliencyLayer string   `json:"saliency_layer"`
		Layers        []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"layers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, res, info.Resolution)
	assert.Equal(t, []string{"MALNUTRITION", "NUTRITION"}, info.Labels)
	assert.Equal(t, "conv2d_2", info.SaliencyLayer)
	require.Len(t, info.Layers, 13)
	assert.Equal(t, "Conv2D", info.Layers[0].Kind)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/predict/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(s, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRound4(t *testing.T) {
	assert.InDelta(t, 0.1235, round4(0.12345678), 1e-12)
	assert.InDelta(t, 1.0, round4(0.99999), 1e-12)
}
