package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"bladetrail/config"
	"bladetrail/detection"
	"bladetrail/logger"
	"bladetrail/pipeline"
	"bladetrail/pkg/ffmpeg"
	"bladetrail/server"
	"bladetrail/watcher"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the detection API",
	Long: `Start the HTTP API. POST a multipart video in field "file" to
/beyblade-detection to receive the annotated mp4.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var processCmd = &cobra.Command{
	Use:   "process <video>",
	Short: "Annotate one video file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Annotate every video dropped into an inbox directory",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			out, _ := sjson.Set(`{}`, "version", version)
			out, _ = sjson.Set(out, "go", runtime.Version())
			out, _ = sjson.Set(out, "platform", runtime.GOOS+"/"+runtime.GOARCH)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bladetrail %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", runtime.Version())
	},
}

var (
	processOutput    string
	processTracksOut string
	watchInbox       string
	watchOutbox      string
)

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	bind(v, map[string]string{"server.addr": "addr"}, serveCmd.Flags())

	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "Output path (default <name>_tracked.mp4 next to the input)")
	processCmd.Flags().StringVar(&processTracksOut, "tracks-out", "", "Write per-frame track positions as JSON lines")

	watchCmd.Flags().StringVar(&watchInbox, "inbox", "inbox", "Directory to watch for new videos")
	watchCmd.Flags().StringVar(&watchOutbox, "outbox", "outbox", "Directory for annotated videos")

	versionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newDetector loads the replay file when configured, otherwise the ONNX
// model with GPU->CPU fallback.
func newDetector(cfg *config.Config) (detection.Detector, error) {
	log := logger.For("MAIN")
	if cfg.Model.Replay != "" {
		log.Infow("using recorded detections", logger.FieldPath, cfg.Model.Replay)
		return detection.LoadReplay(cfg.Model.Replay)
	}

	pm := detection.NewProviderManager()
	if err := pm.Initialize(cfg.Model.Path, cfg.DetectorOptions()); err != nil {
		return nil, err
	}
	info := pm.GetProviderInfo()
	log.Infow("model loaded",
		logger.FieldPath, cfg.Model.Path,
		logger.FieldProvider, info.Type,
		"device", info.Device)
	return pm, nil
}

func newProcessor(cfg *config.Config) (*pipeline.Processor, func(), error) {
	det, err := newDetector(cfg)
	if err != nil {
		return nil, nil, err
	}

	var reencoder pipeline.Reencoder
	if !cfg.FFmpeg.Disabled {
		reencoder = ffmpeg.NewReencoder(cfg.FFmpeg.Binary)
	}

	proc := pipeline.New(det, reencoder, pipeline.Options{
		BatchSize: cfg.Model.BatchSize,
		Prefetch:  cfg.Video.Prefetch,
		FourCC:    cfg.Video.FourCC,
		Tracking:  cfg.TrackerConfig(),
	})
	return proc, func() { det.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	proc, closeDetector, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	defer closeDetector()

	ctx, stop := signalContext()
	defer stop()

	srv := server.NewServer(proc, server.Options{
		MaxUploadMB:   cfg.Server.MaxUploadMB,
		MaxConcurrent: cfg.Server.MaxConcurrent,
	})
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

func runProcess(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := processOutput
	if output == "" {
		output = watcher.OutputPath(filepath.Dir(input), input)
	}

	proc, closeDetector, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	defer closeDetector()

	ctx, stop := signalContext()
	defer stop()

	var tracks *os.File
	if processTracksOut != "" {
		tracks, err = os.Create(processTracksOut)
		if err != nil {
			return errors.Wrapf(err, "create %s", processTracksOut)
		}
		defer tracks.Close()
	}

	var result *pipeline.Result
	if tracks != nil {
		result, err = proc.ProcessFile(ctx, input, output, tracks)
	} else {
		result, err = proc.ProcessFile(ctx, input, output, nil)
	}
	if err != nil {
		return errors.Wrapf(err, "process %s", input)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frames, %d tracks\n", result.Path, result.Stats.Frames, result.Stats.Tracks)
	if !result.Reencoded && !cfg.FFmpeg.Disabled {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: ffmpeg re-encode failed, output is the unconverted annotated video")
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(watchOutbox, 0o755); err != nil {
		return errors.Wrapf(err, "create outbox %s", watchOutbox)
	}

	proc, closeDetector, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	defer closeDetector()

	w, err := watcher.New(watchInbox, watchOutbox, proc)
	if err != nil {
		return errors.WithHint(err, "create the inbox directory first")
	}

	ctx, stop := signalContext()
	defer stop()
	return w.Run(ctx)
}
