package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/twindeck/internal/api"
	"github.com/satindergrewal/twindeck/internal/logger"
	"github.com/satindergrewal/twindeck/internal/session"
	"github.com/satindergrewal/twindeck/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mixer with the HTTP control API and monitor streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func openStore(ctx context.Context) (session.Store, func(), error) {
	if cfg.RedisAddr != "" {
		rs, err := session.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	}
	fs, err := session.NewFileStore(cfg.SessionDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func serve(ctx context.Context) error {
	r := startRig(ctx)

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := stream.NewPositionHub()
	mp3 := stream.NewMP3Handler(r.fanout, cfg.FFmpegPath, cfg.MP3Bitrate)
	rtc := stream.NewWebRTCHandler(r.fanout, cfg.OpusBitrate)
	defer rtc.Close()

	srv := api.NewServer(ctx, r.mixer, api.Options{
		PollInterval:  cfg.PollInterval,
		WaveformWidth: cfg.WaveformWidth,
		Store:         store,
		Hub:           hub,
		MP3:           mp3,
		WebRTC:        rtc,
		Listeners:     func() int { return r.fanout.TapCount() },
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("twindeck live", logger.String("addr", addr), logger.Bool("speaker", cfg.Speaker))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
