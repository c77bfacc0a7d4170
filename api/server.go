// Package api exposes crowd analysis over HTTP for frontend and
// integration clients.
package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
)

const (
	// defaultAreaSqm is assumed when a request omits the monitored area.
	defaultAreaSqm = 100.0
	// maxBodyBytes caps the request body. A 4K JPEG comfortably fits.
	maxBodyBytes = 32 << 20
	// maxSnapshotDim bounds decoded snapshot dimensions before
	// preprocessing applies its own limits.
	maxSnapshotDim = 4096
)

// AnalyzeRequest is the JSON body of POST /analyze.
type AnalyzeRequest struct {
	// PhotoDataURI is the snapshot as a base64 data URI. A bare base64
	// string without the "data:...;base64," prefix is also accepted.
	PhotoDataURI string `json:"photoDataUri"`
	// AreaSqm is the monitored area in square meters. Zero selects the
	// default area.
	AreaSqm float64 `json:"area_sqm"`
}

// AnalyzeResponse is the JSON body returned by POST /analyze.
type AnalyzeResponse struct {
	CrowdCount       int     `json:"crowdCount"`
	RiskLevel        string  `json:"riskLevel"`
	Analysis         string  `json:"analysis"`
	DensityPerSqm    float64 `json:"densityPerSqm"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
}

// Server serves crowd analysis requests against a shared inference
// engine. Handlers are safe for concurrent use.
type Server struct {
	engine *inference.Engine
	log    zerolog.Logger
}

// NewServer wires an engine into an HTTP server.
//
// Arguments:
//   - engine: The inference engine handling snapshot analysis.
//   - log: Structured logger for request outcomes.
//
// Returns:
//   - *Server: The server, ready for ServeMux.
func NewServer(engine *inference.Engine, log zerolog.Logger) *Server {
	return &Server{
		engine: engine,
		log:    log,
	}
}

// SnapshotEngineConfig returns the engine configuration suited to
// single-snapshot HTTP analysis: the lite variant for latency and no
// temporal smoothing, since consecutive requests are unrelated frames.
func SnapshotEngineConfig(weightsPath string) inference.Config {
	cfg := inference.DefaultConfig()
	cfg.Model.Variant = models.VariantLite
	cfg.Model.WeightsPath = weightsPath
	cfg.ScaleFactor = 0.5
	cfg.EnableSmoothing = false
	return cfg
}

// ServeMux returns the route table for the server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.analyzeHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/", s.rootHandler)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	info := s.engine.Stats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "running",
		"service": "Crowd Density API",
		"model": map[string]string{
			"variant": string(info.ModelVariant),
			"backend": string(info.ModelBackend),
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.PhotoDataURI == "" {
		s.writeJSONError(w, http.StatusBadRequest, "photoDataUri is required")
		return
	}
	area := req.AreaSqm
	if area == 0 {
		area = defaultAreaSqm
	}
	if area < 0 {
		s.writeJSONError(w, http.StatusBadRequest, "area_sqm must be positive")
		return
	}

	img, err := decodeDataURI(req.PhotoDataURI)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Failed to decode image: %v", err))
		return
	}

	frame := images.Frame{
		Image:     img,
		SourceID:  "api",
		Timestamp: start,
	}
	result, err := s.engine.Process(r.Context(), frame, area)
	if err != nil {
		s.log.Error().Err(err).Msg("analysis failed")
		switch {
		case errors.Is(err, models.ErrWeightsUnavailable):
			s.writeJSONError(w, http.StatusServiceUnavailable,
				"Density model unavailable. Install model weights and restart.")
		case errors.Is(err, inference.ErrInvalidFrame):
			s.writeJSONError(w, http.StatusBadRequest, "Decoded image is unusable")
		default:
			s.writeJSONError(w, http.StatusInternalServerError, "Inference failed")
		}
		return
	}

	count := int(result.CrowdCount + 0.5)
	if count < 0 {
		count = 0
	}
	density := result.DensityPerSqm
	if density < 0 {
		density = 0
	}
	resp := AnalyzeResponse{
		CrowdCount:       count,
		RiskLevel:        riskLevel(result.Level),
		Analysis:         analysisText(count, result.Level, density),
		DensityPerSqm:    round2(density),
		ProcessingTimeMs: round1(float64(time.Since(start).Nanoseconds()) / 1e6),
	}
	s.log.Info().
		Int("crowd_count", resp.CrowdCount).
		Str("risk_level", resp.RiskLevel).
		Float64("density_per_sqm", resp.DensityPerSqm).
		Float64("total_ms", resp.ProcessingTimeMs).
		Msg("snapshot analyzed")
	s.writeJSON(w, http.StatusOK, resp)
}

// decodeDataURI decodes a base64 data URI, or a bare base64 string,
// into an image.
//
// Arguments:
//   - dataURI: The image payload, optionally prefixed with
//     "data:<mime>;base64,".
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the base64 or image payload is malformed.
func decodeDataURI(dataURI string) (image.Image, error) {
	encoded := dataURI
	if i := strings.IndexByte(dataURI, ','); i >= 0 {
		encoded = dataURI[i+1:]
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 payload")
	}
	return images.DecodeSnapshot(payload, maxSnapshotDim)
}

// riskLevel collapses the five density levels into the three risk
// levels the frontend understands.
func riskLevel(l inference.Level) string {
	switch l {
	case inference.LevelFreeFlow, inference.LevelLow:
		return "Low"
	case inference.LevelMedium:
		return "Medium"
	default:
		return "High"
	}
}

// analysisText produces the human-readable summary for a response.
func analysisText(count int, level inference.Level, densityPerSqm float64) string {
	if count == 0 {
		return "No people detected in the frame. The area appears to be empty."
	}
	switch level {
	case inference.LevelFreeFlow, inference.LevelLow:
		return fmt.Sprintf("Light crowd detected with %d people. The area has comfortable spacing with approximately %.2f people per square meter. Safe for normal operations.", count, densityPerSqm)
	case inference.LevelMedium:
		return fmt.Sprintf("Moderate crowd of %d people detected. Density is %.2f people per square meter. Some congestion may occur in narrow passages.", count, densityPerSqm)
	case inference.LevelHigh:
		return fmt.Sprintf("Dense crowd of %d people detected. High density of %.2f people per square meter. Consider crowd control measures and monitor closely.", count, densityPerSqm)
	case inference.LevelCritical:
		return fmt.Sprintf("Critical crowd density with %d people detected! Density is %.2f people per square meter. Immediate action recommended - potential safety hazard.", count, densityPerSqm)
	}
	return fmt.Sprintf("Detected %d people in the area.", count)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
