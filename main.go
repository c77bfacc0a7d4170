package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/crowd-ai/go-density/analysis"
	"github.com/crowd-ai/go-density/api"
	"github.com/crowd-ai/go-density/capture"
	"github.com/crowd-ai/go-density/config"
	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
	"github.com/crowd-ai/go-density/monitor"
)

const (
	// DefaultWeightsPath is where the native weights blob is looked up
	// when neither flag nor config names one.
	DefaultWeightsPath = "weights/csrnet.bin"
	// shutdownTimeout bounds graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second
)

func main() {
	var (
		configPath  string
		listenAddr  string
		weightsPath string
		variant     string
		backend     string
		imagePath   string
		videoPath   string
		rtspURL     string
		device      int
		areaSqm     float64
		gridRows    int
		gridCols    int
		debug       bool
		jsonLogs    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to JSON deployment config")
	flag.StringVar(&listenAddr, "addr", "", "HTTP listen address (overrides config)")
	flag.StringVar(&weightsPath, "weights", "", "Path to model weights")
	flag.StringVar(&variant, "variant", "", "Model variant: standard or lite")
	flag.StringVar(&backend, "backend", "", "Model backend: native or onnx")
	flag.StringVar(&imagePath, "image", "", "Analyze a single image file and exit")
	flag.StringVar(&videoPath, "video", "", "Analyze a video file")
	flag.StringVar(&rtspURL, "rtsp", "", "Analyze an RTSP stream")
	flag.IntVar(&device, "device", -1, "Analyze a webcam device")
	flag.Float64Var(&areaSqm, "area", 0, "Monitored area in square meters")
	flag.IntVar(&gridRows, "grid-rows", 0, "Zone grid rows (0 disables zone analysis)")
	flag.IntVar(&gridCols, "grid-cols", 0, "Zone grid columns")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs instead of console output")
	flag.Parse()

	log := newLogger(debug, jsonLogs)

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	mode := resolveMode(imagePath, videoPath, rtspURL, device, len(cfg.Cameras))

	ec := cfg.EngineConfig()
	applyFlagOverrides(&ec, weightsPath, variant, backend, areaSqm)
	if ec.Model.WeightsPath == "" {
		ec.Model.WeightsPath = DefaultWeightsPath
	}
	ec = engineConfigForMode(ec, mode)

	engine, err := inference.New(ec, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize inference engine")
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeImage:
		err = analyzeImageFile(ctx, engine, imagePath, ec.AreaSqm, gridRows, gridCols)
	case modeLive:
		cameras := cfg.Cameras
		if len(cameras) == 0 {
			cameras = []capture.CameraConfig{flagCamera(videoPath, rtspURL, device, ec.AreaSqm)}
		}
		err = runLive(ctx, engine, log, cameras, gridRows, gridCols)
	default:
		addr := cfg.Addr()
		if listenAddr != "" {
			addr = listenAddr
		}
		err = runServer(ctx, engine, log, addr)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}

// runMode selects what the process does after the engine is built.
type runMode int

const (
	modeImage runMode = iota
	modeLive
	modeServe
)

func resolveMode(imagePath, videoPath, rtspURL string, device, cameras int) runMode {
	switch {
	case imagePath != "":
		return modeImage
	case videoPath != "" || rtspURL != "" || device >= 0 || cameras > 0:
		return modeLive
	default:
		return modeServe
	}
}

// engineConfigForMode adjusts the engine configuration to the run mode.
// Modes that analyze unrelated single frames disable temporal smoothing;
// a shared FIFO across HTTP clients would blend one request's count with
// the previous requests' counts.
func engineConfigForMode(ec inference.Config, mode runMode) inference.Config {
	if mode == modeServe || mode == modeImage {
		ec.EnableSmoothing = false
	}
	return ec
}

func newLogger(debug, jsonLogs bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if jsonLogs {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

func applyFlagOverrides(ec *inference.Config, weightsPath, variant, backend string, areaSqm float64) {
	if weightsPath != "" {
		ec.Model.WeightsPath = weightsPath
	}
	if variant != "" {
		ec.Model.Variant = models.Variant(variant)
	}
	if backend != "" {
		ec.Model.Backend = models.Backend(backend)
	}
	if areaSqm > 0 {
		ec.AreaSqm = areaSqm
	}
}

// flagCamera builds a single camera config from the input flags.
func flagCamera(videoPath, rtspURL string, device int, areaSqm float64) capture.CameraConfig {
	src := capture.SourceConfig{SourceID: "cam0"}
	switch {
	case videoPath != "":
		src.Kind = capture.KindFile
		src.Path = videoPath
	case rtspURL != "":
		src.Kind = capture.KindRTSP
		src.URL = rtspURL
	default:
		src.Kind = capture.KindWebcam
		src.Device = device
	}
	return capture.CameraConfig{
		Source:  src,
		AreaSqm: areaSqm,
		Enabled: true,
	}
}

// analyzeImageFile runs a single image through the engine and prints
// the analysis as JSON on stdout.
func analyzeImageFile(ctx context.Context, engine *inference.Engine, path string, areaSqm float64, gridRows, gridCols int) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := images.DecodeSnapshot(payload, 0)
	if err != nil {
		return err
	}
	frame := images.Frame{Image: img, SourceID: "cli", Timestamp: time.Now()}
	result, err := engine.Process(ctx, frame, 0)
	if err != nil {
		return err
	}

	out := map[string]interface{}{"result": result}
	analyzer, err := analysis.New(areaSqm, engine.Thresholds(), gridRows, gridCols)
	if err != nil {
		return err
	}
	stats, err := analyzer.Analyze(result.DensityMap, result.CrowdCount)
	if err != nil {
		return err
	}
	out["stats"] = stats
	out["assessment"] = analysis.Assess(stats)
	out["narrative"] = analysis.Narrative(stats)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runLive consumes frames from the configured cameras until the context
// is cancelled, logging one analysis line per frame.
func runLive(ctx context.Context, engine *inference.Engine, log zerolog.Logger, cameras []capture.CameraConfig, gridRows, gridCols int) error {
	mon := monitor.New(monitor.Options{}, log)
	mon.AddCollector(monitor.CollectorFunc(func() map[string]float64 {
		stats := engine.Stats()
		return map[string]float64{
			"engine_fps":     stats.EstimatedFPS,
			"engine_mean_ms": stats.AverageInferenceMs,
		}
	}))
	mon.Start()
	defer mon.Stop()

	handler := func(ctx context.Context, cam capture.CameraConfig, frame images.Frame) error {
		start := time.Now()
		result, err := engine.Process(ctx, frame, cam.AreaSqm)
		if err != nil {
			mon.RecordDrop()
			return err
		}
		mon.RecordFrame()
		mon.RecordOperation("process", time.Since(start))

		evt := log.Info().
			Str("source", frame.SourceID).
			Int("frame", frame.Number).
			Float64("count", result.CrowdCount).
			Float64("density_per_sqm", result.DensityPerSqm).
			Stringer("level", result.Level).
			Float64("ms", result.ProcessingTimeMs)
		if gridRows > 0 && gridCols > 0 {
			analyzer, aerr := analysis.New(result.AreaSqm, engine.Thresholds(), gridRows, gridCols)
			if aerr != nil {
				return aerr
			}
			stats, aerr := analyzer.Analyze(result.DensityMap, result.CrowdCount)
			if aerr != nil {
				return aerr
			}
			evt = evt.Int("hotspots", stats.HotspotCount).
				Str("status", analysis.Assess(stats).OverallStatus)
		}
		evt.Msg("frame analyzed")
		return nil
	}

	manager, err := capture.NewManager(cameras, handler, log)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	<-ctx.Done()
	log.Info().Msg("shutting down capture")
	return nil
}

// runServer blocks serving the HTTP API until the context is cancelled.
func runServer(ctx context.Context, engine *inference.Engine, log zerolog.Logger, addr string) error {
	server := api.NewServer(engine, log)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.ServeMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving crowd density API")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
