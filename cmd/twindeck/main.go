package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/config"
	"github.com/satindergrewal/twindeck/internal/logger"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/speaker"
	"github.com/satindergrewal/twindeck/internal/stream"
)

var (
	cfg         config.Config
	flagPort    int
	flagSpeaker bool
)

var rootCmd = &cobra.Command{
	Use:   "twindeck",
	Short: "twindeck is a two-deck audio mixer with a crossfader.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if cmd.Flags().Changed("port") {
			cfg.Port = flagPort
		}
		if cmd.Flags().Changed("speaker") {
			cfg.Speaker = flagSpeaker
		}
		return logger.Init(logger.Config{
			Level:      cfg.LogLevel,
			OutputPath: cfg.LogFile,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 8080, "HTTP port (overrides TWINDECK_PORT)")
	rootCmd.PersistentFlags().BoolVar(&flagSpeaker, "speaker", false, "play the master bus on the local sound card")
}

// rig is the running audio graph shared by every subcommand.
type rig struct {
	engine *audio.Engine
	mixer  *mixer.Mixer
	fanout *stream.Fanout
}

// startRig builds decks A and B over a fresh engine and starts rendering.
func startRig(ctx context.Context) *rig {
	e := audio.NewEngine()
	m := mixer.Build(e, audio.NewDecoder(cfg.FFmpegPath), "A", "B")
	m.SetMasterVolume(cfg.MasterVolume)
	for i := range m.Decks() {
		m.SetDeckVolume(i, cfg.DeckVolume)
	}

	f := stream.NewFanout()
	go e.Run(ctx)
	go f.Run(ctx, e.Frames())

	if cfg.Speaker {
		go func() {
			if err := speaker.Play(ctx, f); err != nil {
				logger.Error("Speaker monitor unavailable", logger.ErrorField(err))
			}
		}()
	}
	return &rig{engine: e, mixer: m, fanout: f}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
