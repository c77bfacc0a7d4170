package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
)

// mockModel returns the same canned density map for every Predict call.
type mockModel struct {
	dm  *models.DensityMap
	err error
}

func (m *mockModel) Predict(_ context.Context, _ *images.Tensor) (*models.DensityMap, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := &models.DensityMap{
		Data:   make([]float32, len(m.dm.Data)),
		Width:  m.dm.Width,
		Height: m.dm.Height,
	}
	copy(out.Data, m.dm.Data)
	return out, nil
}

func (m *mockModel) Info() models.Info {
	return models.Info{Variant: models.VariantLite, Backend: models.BackendNative, DownsampleFactor: 8}
}

func (m *mockModel) Close() error { return nil }

// uniformMap spreads total evenly over a 4x4 grid.
func uniformMap(total float32) *models.DensityMap {
	dm := &models.DensityMap{Data: make([]float32, 16), Width: 4, Height: 4}
	for i := range dm.Data {
		dm.Data[i] = total / 16
	}
	return dm
}

func testServer(t *testing.T, model models.Model) *Server {
	t.Helper()
	cfg := inference.DefaultConfig()
	cfg.Model.Variant = models.VariantLite
	cfg.EnableSmoothing = false
	engine, err := inference.NewWithModel(cfg, model, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return NewServer(engine, zerolog.Nop())
}

// testDataURI encodes a solid grey PNG as a base64 data URI.
func testDataURI(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{120, 120, 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postAnalyze(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeReturnsCountAndRisk(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(60)})

	rec := postAnalyze(t, srv, AnalyzeRequest{
		PhotoDataURI: testDataURI(t, 320, 240),
		AreaSqm:      100,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 60, resp.CrowdCount)
	assert.Equal(t, "Medium", resp.RiskLevel)
	assert.InDelta(t, 0.6, resp.DensityPerSqm, 1e-9)
	assert.Contains(t, resp.Analysis, "Moderate crowd of 60 people")
	assert.GreaterOrEqual(t, resp.ProcessingTimeMs, 0.0)
}

func TestAnalyzeDefaultsArea(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(40)})

	rec := postAnalyze(t, srv, AnalyzeRequest{PhotoDataURI: testDataURI(t, 320, 240)})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 0.4, resp.DensityPerSqm, 1e-9)
	assert.Equal(t, "Low", resp.RiskLevel)
}

func TestAnalyzeAcceptsBareBase64(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(5)})

	uri := testDataURI(t, 320, 240)
	bare := uri[strings.IndexByte(uri, ',')+1:]
	rec := postAnalyze(t, srv, AnalyzeRequest{PhotoDataURI: bare, AreaSqm: 50})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyzeZeroCountText(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(0)})

	rec := postAnalyze(t, srv, AnalyzeRequest{PhotoDataURI: testDataURI(t, 320, 240)})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.CrowdCount)
	assert.Equal(t, "Low", resp.RiskLevel)
	assert.Equal(t, "No people detected in the frame. The area appears to be empty.", resp.Analysis)
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(10)})

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing image", AnalyzeRequest{AreaSqm: 100}, http.StatusBadRequest},
		{"negative area", AnalyzeRequest{PhotoDataURI: testDataURI(t, 64, 64), AreaSqm: -5}, http.StatusBadRequest},
		{"invalid base64", AnalyzeRequest{PhotoDataURI: "data:image/png;base64,!!!"}, http.StatusBadRequest},
		{"not an image", AnalyzeRequest{PhotoDataURI: base64.StdEncoding.EncodeToString([]byte("plain text"))}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAnalyze(t, srv, tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestAnalyzeRejectsMalformedJSON(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(10)})

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(10)})

	req := httptest.NewRequest(http.MethodGet, "/analyze", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAnalyzeModelFailure(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(10), err: models.ErrWeightsUnavailable})

	rec := postAnalyze(t, srv, AnalyzeRequest{PhotoDataURI: testDataURI(t, 320, 240)})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "weights")
}

func TestHealthAndRoot(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(10)})
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := testServer(t, &mockModel{dm: uniformMap(10)})

	rec := postAnalyze(t, srv, AnalyzeRequest{PhotoDataURI: testDataURI(t, 320, 240)})
	require.Equal(t, http.StatusOK, rec.Code)

	statsRec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(statsRec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, statsRec.Code)

	var stats inference.PerformanceStats
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.FramesProcessed)
	assert.Equal(t, models.VariantLite, stats.ModelVariant)
}

func TestSnapshotEngineConfig(t *testing.T) {
	cfg := SnapshotEngineConfig("weights/lite.bin")
	assert.Equal(t, models.VariantLite, cfg.Model.Variant)
	assert.Equal(t, "weights/lite.bin", cfg.Model.WeightsPath)
	assert.InDelta(t, 0.5, cfg.ScaleFactor, 1e-9)
	assert.False(t, cfg.EnableSmoothing)
	require.NoError(t, cfg.Validate())
}
