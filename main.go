package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/docs" // swagger generated docs
	"github.com/termserve/termserve/src/api"
	"github.com/termserve/termserve/src/lib/config"
)

// @title           Terminal Session Server
// @version         0.0.1-preview
// @description     API for creating PTY sessions, streaming them to WebSocket clients and replaying their output.

// @host      localhost:8080
// @BasePath  /
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found")
	}

	// Define command-line flags
	port := flag.Int("port", 8080, "Port to listen on")
	shortPort := flag.Int("p", 8080, "Port to listen on (shorthand)")
	disableRequestLogging := flag.Bool("no-request-log", false, "Disable per-request logging")
	enableProcessingTime := flag.Bool("timing", false, "Emit Server-Timing headers")
	flag.Parse()

	portValue := *port
	if *shortPort != 8080 {
		portValue = *shortPort
	}

	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	cfg, err := config.Load()
	if err != nil {
		// Missing required configuration is exit code 2 so supervisors can
		// tell it apart from runtime crashes.
		logrus.Errorf("Configuration error: %v", err)
		os.Exit(2)
	}
	docs.SwaggerInfo.Host = fmt.Sprintf("%s:%d", os.Getenv("HOST"), portValue)

	server := api.NewServer(cfg)
	router := api.SetupRouter(server, *disableRequestLogging, *enableProcessingTime)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", portValue),
		Handler: router,
	}

	go func() {
		logrus.Infof("Starting session server on %s (data dir %s)", httpServer.Addr, cfg.DataDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop the scheduler, notify attached clients and
	// terminate PTYs (SIGTERM then SIGKILL), stop the HTTP server, then exit
	// clean.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.KillGrace+5*time.Second)
	defer cancel()

	server.Scheduler.Stop()
	if err := server.Registry.Shutdown(ctx); err != nil {
		logrus.Warnf("Session teardown incomplete: %v", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logrus.Warnf("HTTP shutdown incomplete: %v", err)
	}
	logrus.Info("Shutdown complete")
}
