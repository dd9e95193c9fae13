package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/config"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/server"
)

var (
	configPath = flag.String("config", getEnv("ACESSO_CONFIG", ""), "Path to YAML configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")

	actorName = flag.String("actor", "", "Only entries whose actor name contains this text")
	module    = flag.String("module", "", "Only entries for this module")
	action    = flag.String("action", "", "Only entries with this action")
	start     = flag.String("start", "", "Earliest timestamp, RFC3339 or YYYY-MM-DD")
	end       = flag.String("end", "", "Latest timestamp, RFC3339 or YYYY-MM-DD (whole day)")
	format    = flag.String("format", "csv", "Output format: csv, json or ndjson")
	output    = flag.String("out", "-", "Output file, - for stdout")
	archive   = flag.Bool("archive", false, "Upload the export to the configured S3 bucket")
	exportAs  = flag.String("as", "system", "Actor id recorded for the export")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// diagnostics go to stderr so stdout can carry the export
	logger := observability.NewLogger(cfg.LogLevel(), os.Stderr).WithField("service", "acesso-audit-export")

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("export failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	exportFormat, err := audit.ParseExportFormat(*format)
	if err != nil {
		return err
	}
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	store, err := server.OpenStore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	auditStore := audit.NewStore(store, audit.StoreConfig{
		WriteTimeout: cfg.Audit.WriteTimeout,
		MaxAttempts:  cfg.Audit.MaxAttempts,
	}, logger, nil)

	entries, err := auditStore.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	var out io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *output, err)
		}
		defer f.Close()
		out = f
	}
	if err := audit.Export(out, entries, exportFormat); err != nil {
		return err
	}

	details := fmt.Sprintf("exported %d entries as %s", len(entries), exportFormat)
	if *archive {
		archiver, err := audit.NewS3Archiver(ctx, audit.ArchiveConfig{
			Bucket:       cfg.Audit.S3Bucket,
			Prefix:       cfg.Audit.S3Prefix,
			Region:       cfg.Audit.S3Region,
			Endpoint:     cfg.Audit.S3Endpoint,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		})
		if err != nil {
			return err
		}
		key, err := archiver.Archive(ctx, entries, exportFormat, "audit-"+time.Now().UTC().Format("20060102T150405Z"))
		if err != nil {
			return err
		}
		details += ", archived to " + key
		logger.WithField("key", key).Info("export archived")
	}

	entry := audit.NewEntry(audit.Actor{ID: *exportAs, Name: *exportAs}, audit.ModuleAudit, audit.ActionExport).
		Target("audit_log", "").
		WithDetails("%s", details)
	if err := auditStore.Record(ctx, entry); err != nil {
		logger.WithError(err).Warn("export not audited")
	}

	logger.WithFields(map[string]interface{}{
		"entries": len(entries),
		"format":  string(exportFormat),
	}).Info("export complete")
	return nil
}

func buildFilter() (audit.Filter, error) {
	filter := audit.Filter{ActorName: *actorName, Module: *module}
	if *action != "" {
		a := audit.Action(*action)
		if !a.Valid() {
			return filter, fmt.Errorf("%w: %s", audit.ErrInvalidAction, *action)
		}
		filter.Action = a
	}

	var err error
	if filter.Start, err = parseTime(*start, false); err != nil {
		return filter, fmt.Errorf("invalid start: %w", err)
	}
	if filter.End, err = parseTime(*end, true); err != nil {
		return filter, fmt.Errorf("invalid end: %w", err)
	}
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return filter, fmt.Errorf("end is before start")
	}
	return filter, nil
}

// parseTime accepts RFC3339 or a date; a date used as an upper bound
// covers the whole day.
func parseTime(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
