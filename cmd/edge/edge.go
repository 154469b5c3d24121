package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/cvdnn"
	"github.com/drishti-agent/edge/pkg/videox/cv"
	"github.com/drishti-agent/edge/server"
	"github.com/drishti-agent/edge/server/config"
)

// quietLog drops debug messages
type quietLog struct {
	logs.Log
}

func (quietLog) Debugf(format string, a ...any) {}

func main() {
	os.Exit(run())
}

// run returns the process exit code. Everything it opens is closed before it returns.
func run() int {
	parser := argparse.NewParser("edge", "Venue anomaly monitor")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file (default: edge.yaml, if present)", Default: ""})
	source := parser.String("", "source", &argparse.Options{Help: "Video source: webcam index, file, or stream URL (overrides config)", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "Address of the status and metrics API, eg :8090 (overrides config)", Default: ""})
	standalone := parser.Flag("", "standalone", &argparse.Options{Help: "Record incidents in a local journal instead of calling the backend", Default: false})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log suppressed anomalies", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		return 1
	}

	var logger logs.Log
	logger, err = logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		return 1
	}
	if !*verbose {
		logger = quietLog{logger}
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	if *source != "" {
		cfg.Video.Source = *source
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *standalone {
		cfg.Standalone = true
	}

	if err := server.InitSentry(cfg.Sentry, cfg.CameraID); err != nil {
		logger.Warnf("%v", err)
	}
	defer server.FlushSentry()

	capture, err := cv.OpenCapture(cfg.Video.Source)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	defer capture.Close()

	detector, err := cvdnn.NewDetector(cfg.Detector.Config, cfg.Detector.Weights, cfg.Detector.Classes, cfg.Detector.InputSize)
	if err != nil {
		logger.Errorf("Failed to load object detector: %v", err)
		return 1
	}
	defer detector.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, logger, cfg, server.Deps{
		Source:   capture,
		Detector: detector,
		Encoder:  &cv.Encoder{},
	})
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	defer srv.Close()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if cfg.HTTP.Listen != "" {
		go func() {
			if err := srv.ListenHTTP(cfg.HTTP.Listen); err != nil {
				logger.Errorf("Status API failed: %v", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logger.Infof("Edge agent stopped")
	return 0
}
