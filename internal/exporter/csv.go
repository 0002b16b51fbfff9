package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"pulse/internal/tracker"
)

// Headers is the column layout of every export
var Headers = []string{
	"event_id",
	"site_id",
	"session_id",
	"visitor_id",
	"event_type",
	"timestamp",
	"url",
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"consent_given",
	"properties",
}

// SheetName is the worksheet XLSX exports are written to
const SheetName = "Events"

var bom = []byte{0xEF, 0xBB, 0xBF}

// Row flattens an event into the Headers layout
func Row(e tracker.Event) []string {
	url, _ := e.Properties["url"].(string)

	var source, medium, campaign string
	if e.Attribution != nil {
		source, medium, campaign = e.Attribution.Source, e.Attribution.Medium, e.Attribution.Campaign
	}
	consent := ""
	if e.Privacy != nil {
		consent = formatBool(e.Privacy.ConsentGiven)
	}

	return []string{
		e.EventID,
		e.SiteID,
		e.SessionID,
		e.VisitorID,
		string(e.EventType),
		formatTime(e.Timestamp),
		url,
		source,
		medium,
		campaign,
		consent,
		formatProperties(e.Properties),
	}
}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	// BOMPrefix adds a UTF-8 BOM for Excel compatibility
	BOMPrefix bool
	// OmitHeaders skips the header row, for appending
	OmitHeaders bool
}

// Write exports events in the given format
func Write(w io.Writer, format Format, events []tracker.Event) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, events)
	case FormatCSV, "":
		return WriteCSV(w, events, WriteOptions{BOMPrefix: true})
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteCSV writes events as CSV
func WriteCSV(w io.Writer, events []tracker.Event, options WriteOptions) error {
	sw, err := NewStreamWriter(w, options)
	if err != nil {
		return err
	}
	for i, e := range events {
		if err := sw.WriteEvent(e); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return sw.Flush()
}

// WriteXLSX writes events to a single-sheet workbook
func WriteXLSX(w io.Writer, events []tracker.Event) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, e := range events {
		row := Row(e)
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteFile exports events to path, creating parent directories
func WriteFile(path string, format Format, events []tracker.Event) error {
	slog.Info("Writing export file",
		slog.String("file_path", path),
		slog.String("format", string(format)),
		slog.Int("record_count", len(events)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := Write(file, format, events); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// StreamWriter writes CSV rows one event at a time
type StreamWriter struct {
	writer *csv.Writer
}

// NewStreamWriter writes the optional BOM and header row to w
func NewStreamWriter(w io.Writer, options WriteOptions) (*StreamWriter, error) {
	if options.BOMPrefix {
		if _, err := w.Write(bom); err != nil {
			return nil, fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if !options.OmitHeaders {
		if err := writer.Write(Headers); err != nil {
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}
	return &StreamWriter{writer: writer}, nil
}

// WriteEvent writes a single event row
func (s *StreamWriter) WriteEvent(e tracker.Event) error {
	return s.writer.Write(Row(e))
}

// Flush flushes buffered rows and reports any write error
func (s *StreamWriter) Flush() error {
	s.writer.Flush()
	return s.writer.Error()
}
