package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportFormat is an export serialization
type ExportFormat string

const (
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// ParseExportFormat validates a format name, defaulting to CSV
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExportFormatCSV:
		return ExportFormatCSV, nil
	case ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatNDJSON:
		return ExportFormatNDJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatJSON:
		return "application/json"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "text/csv"
	}
}

// Extension returns the file extension of the format
func (f ExportFormat) Extension() string {
	return string(f)
}

var csvHeader = []string{
	"id", "timestamp", "actorId", "actorName", "actorRole", "module", "action",
	"targetType", "targetId", "details", "ipAddress", "userAgent", "diffBefore", "diffAfter",
}

// Export writes entries to w in the given format
func Export(w io.Writer, entries []*Entry, format ExportFormat) error {
	switch format {
	case ExportFormatJSON:
		return exportJSON(w, entries)
	case ExportFormatNDJSON:
		return exportNDJSON(w, entries)
	case ExportFormatCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(w io.Writer, entries []*Entry) error {
	if entries == nil {
		entries = []*Entry{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	return nil
}

func exportNDJSON(w io.Writer, entries []*Entry) error {
	encoder := json.NewEncoder(w)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", entry.ID, err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, entries []*Entry) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		before, err := snapshot(entry.DiffBefore)
		if err != nil {
			return err
		}
		after, err := snapshot(entry.DiffAfter)
		if err != nil {
			return err
		}

		row := []string{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.ActorID,
			entry.ActorName,
			entry.ActorRole,
			entry.Module,
			string(entry.Action),
			entry.TargetType,
			entry.TargetID,
			entry.Details,
			entry.IPAddress,
			entry.UserAgent,
			before,
			after,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func snapshot(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(data), nil
}
