// Command overlay renders live density heatmaps over a webcam or video
// feed, either in a window or to an output video file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/crowd-ai/go-density/analysis"
	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
	"github.com/crowd-ai/go-density/visualize"
)

func main() {
	var (
		device      int
		videoPath   string
		weightsPath string
		variant     string
		areaSqm     float64
		alpha       float64
		gridRows    int
		gridCols    int
		outputPath  string
		showWindow  bool
	)
	flag.IntVar(&device, "device", 0, "Webcam device ID")
	flag.StringVar(&videoPath, "video", "", "Video file instead of a webcam")
	flag.StringVar(&weightsPath, "weights", "weights/csrnet.bin", "Path to model weights")
	flag.StringVar(&variant, "variant", string(models.VariantLite), "Model variant")
	flag.Float64Var(&areaSqm, "area", 100, "Monitored area in square meters")
	flag.Float64Var(&alpha, "alpha", 0.5, "Heatmap blend weight")
	flag.IntVar(&gridRows, "grid-rows", 0, "Zone grid rows (0 disables zones)")
	flag.IntVar(&gridCols, "grid-cols", 0, "Zone grid columns")
	flag.StringVar(&outputPath, "output", "", "Write annotated video to this path")
	flag.BoolVar(&showWindow, "show-window", true, "Display a preview window")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()

	cfg := inference.DefaultConfig()
	cfg.Model.Variant = models.Variant(variant)
	cfg.Model.WeightsPath = weightsPath
	cfg.AreaSqm = areaSqm

	engine, err := inference.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine")
	}
	defer engine.Close()

	var src *gocv.VideoCapture
	if videoPath != "" {
		src, err = gocv.VideoCaptureFile(videoPath)
	} else {
		src, err = gocv.OpenVideoCapture(device)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open capture source")
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, engine, src, log, options{
		alpha:      alpha,
		gridRows:   gridRows,
		gridCols:   gridCols,
		outputPath: outputPath,
		showWindow: showWindow,
	}); err != nil {
		log.Fatal().Err(err).Msg("overlay loop failed")
	}
}

type options struct {
	alpha      float64
	gridRows   int
	gridCols   int
	outputPath string
	showWindow bool
}

func run(ctx context.Context, engine *inference.Engine, src *gocv.VideoCapture, log zerolog.Logger, opts options) error {
	vopts := visualize.DefaultOptions()
	vopts.Alpha = opts.alpha
	vopts.ShowSummary = true
	viz := visualize.New(vopts)

	var analyzer *analysis.Analyzer
	if opts.gridRows > 0 && opts.gridCols > 0 {
		var err error
		analyzer, err = analysis.New(engine.Config().AreaSqm, engine.Thresholds(), opts.gridRows, opts.gridCols)
		if err != nil {
			return err
		}
	}

	var window *gocv.Window
	if opts.showWindow {
		window = gocv.NewWindow("Crowd Density")
		defer window.Close()
	}

	var writer *gocv.VideoWriter
	mat := gocv.NewMat()
	defer mat.Close()

	frameNum := 0
	for ctx.Err() == nil {
		if ok := src.Read(&mat); !ok {
			return nil
		}
		if mat.Empty() {
			continue
		}
		frameNum++

		img, err := images.MatToImage(mat.ToBytes(), mat.Cols(), mat.Rows(), mat.Cols()*mat.Channels())
		if err != nil {
			log.Warn().Err(err).Int("frame", frameNum).Msg("skipping unreadable frame")
			continue
		}
		frame := images.Frame{Image: img, SourceID: "overlay", Number: frameNum, Timestamp: time.Now()}

		result, err := engine.Process(ctx, frame, 0)
		if err != nil {
			return err
		}

		blended, err := viz.Overlay(mat, result)
		if err != nil {
			return err
		}
		if analyzer != nil {
			zones, zerr := analyzer.AnalyzeZones(result.DensityMap, opts.gridRows, opts.gridCols)
			if zerr != nil {
				blended.Close()
				return zerr
			}
			if zerr := viz.DrawZones(&blended, zones, result.DensityMap.Width, result.DensityMap.Height); zerr != nil {
				blended.Close()
				return zerr
			}
		}

		if opts.outputPath != "" && writer == nil {
			fps := src.Get(gocv.VideoCaptureFPS)
			if fps <= 0 {
				fps = 25
			}
			writer, err = gocv.VideoWriterFile(opts.outputPath, "mp4v", fps, blended.Cols(), blended.Rows(), true)
			if err != nil {
				blended.Close()
				return err
			}
			defer writer.Close()
		}
		if writer != nil {
			if err := writer.Write(blended); err != nil {
				blended.Close()
				return err
			}
		}
		if window != nil {
			window.IMShow(blended)
			if window.WaitKey(1) == 'q' {
				blended.Close()
				return nil
			}
		}
		blended.Close()
	}
	return nil
}
