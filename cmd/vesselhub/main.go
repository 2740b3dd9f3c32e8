package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartesiancs/vessel/internal/config"
	"github.com/cartesiancs/vessel/internal/logging"
	"github.com/cartesiancs/vessel/internal/server"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "vesselhub",
	Short: "Vessel IoT hub: stream fan-out, flow engine, and session signaling",
	RunE:  runServe,
}

func init() {
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "disable ingress subsystems (RTP demuxer, RTSP supervisor, MQTT ingress) and run only the WS/HTTP server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if debugFlag {
		cfg.Debug = true
	}

	logger := logging.Setup(cfg.Environment)
	logger.Info().Msg("vessel hub starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize server")
	}

	httpServer := srv.HTTPServer()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("vessel hub stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
