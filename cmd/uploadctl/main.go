package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/statementdesk/extraction-client/internal/bootstrap"
	"github.com/statementdesk/extraction-client/internal/config"
	"github.com/statementdesk/extraction-client/internal/core/domain"
	"github.com/statementdesk/extraction-client/internal/core/ports"
	"github.com/statementdesk/extraction-client/internal/infrastructure/export/xlsx"
	"github.com/statementdesk/extraction-client/internal/observability/logging"
)

func main() {
	var (
		paramsPath = flag.String("params", "", "YAML file with extraction job parameters")
		outPath    = flag.String("out", "", "write extracted tables to this .xlsx path")
		uploadID   = flag.String("upload-id", "", "correlation id (minted when empty)")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: uploadctl [flags] <statement-file>")
	}
	statementPath := flag.Arg(0)

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logs go to stderr so stdout stays clean for progress output.
	logger := logging.NewTextLogger(os.Stderr, cfg.LogLevel)
	app := bootstrap.New(cfg, logger)

	if cfg.MetricsPort != "" {
		go func() {
			if err := http.ListenAndServe(":"+cfg.MetricsPort, app.Metrics.Handler()); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	params, err := loadParams(*paramsPath)
	if err != nil {
		log.Fatalf("load job parameters: %v", err)
	}

	file, err := os.Open(statementPath)
	if err != nil {
		log.Fatalf("open statement: %v", err)
	}
	defer file.Close()

	// Progress frames can arrive far faster than a terminal refreshes.
	limiter := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)

	result, err := app.Tracker.Track(ctx, ports.TrackRequest{
		UploadID:   *uploadID,
		Filename:   filepath.Base(statementPath),
		Content:    file,
		Parameters: params,
		Token:      cfg.APIToken,
		OnProgress: func(state domain.ProgressState) {
			if state.Terminal == nil && !limiter.Allow() {
				return
			}
			line := fmt.Sprintf("[%3.0f%%] %s", state.Percentage, state.Stage)
			if state.Message != "" {
				line += ": " + state.Message
			}
			if state.EstimatedRemaining != "" {
				line += " (" + state.EstimatedRemaining + " left)"
			}
			fmt.Println(line)
		},
		OnMetadata: func(meta domain.StatementMetadata) {
			fmt.Printf("statement metadata: carrier=%q date=%s pages=%d total=%.2f\n",
				meta.Carrier, meta.StatementDate, meta.PageCount, meta.TotalCommission)
		},
	})
	if err != nil {
		log.Fatalf("upload failed: %v", err)
	}

	fmt.Printf("extracted %d tables via %s in %.1fs\n",
		len(result.Tables), result.ExtractionMethod, result.ProcessingTimeSeconds)

	if *outPath != "" {
		if err := xlsx.NewWriter().Write(result, *outPath); err != nil {
			log.Fatalf("export tables: %v", err)
		}
		fmt.Printf("tables written to %s\n", *outPath)
	}
}

func loadParams(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var params map[string]string
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return params, nil
}
