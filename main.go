package main

import (
	"fmt"
	"os"

	"bladetrail/config"
	"bladetrail/logger"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	v          = config.NewViper()
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "bladetrail",
	Short: "bladetrail - spinning top tracking with motion trails",
	Long: `bladetrail detects spinning tops in a video, follows them from frame to
frame and draws a fading motion trail behind each one.

Available commands:
  serve   - HTTP API accepting video uploads
  process - annotate a single video file
  watch   - annotate every video dropped into an inbox directory
  version - print build information

Examples:
  bladetrail serve --addr :8000
  bladetrail process battle.mp4 -o battle_tracked.mp4
  bladetrail watch --inbox ./in --outbox ./out`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Verbose); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "TOML config file (default ./"+config.DefaultFile+" when present)")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.Bool("json-logs", false, "Emit JSON logs")
	flags.String("model", "", "ONNX model path (overrides model.path)")
	flags.String("replay", "", "JSONL detections to use instead of the model")
	flags.Bool("no-reencode", false, "Skip the ffmpeg web re-encode")

	bind(v, map[string]string{
		"log.verbose":     "verbose",
		"log.json":        "json-logs",
		"model.path":      "model",
		"model.replay":    "replay",
		"ffmpeg.disabled": "no-reencode",
	}, flags)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// bind attaches flags to config keys so a flag set on the command line
// wins over file and environment values.
func bind(v *viper.Viper, keys map[string]string, flags *pflag.FlagSet) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(1)
	}
}
