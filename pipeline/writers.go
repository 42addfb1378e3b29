package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aluiziolira/go-crawl-news/models"
)

// ListingColumns is the CSV layout for listing-only runs.
var ListingColumns = []string{"url", "title", "date", "topic"}

// ArticleColumns returns the CSV layout for article records with the given
// extracted field names.
func ArticleColumns(fields []string) []string {
	cols := []string{"url"}
	for _, f := range fields {
		if f != "url" {
			cols = append(cols, f)
		}
	}
	return append(cols, "listing_title", "listing_date", "listing_topic", "fetched_at")
}

// CSVWriter writes records to CSV. When constructed without columns the
// header is taken from the first record written.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	columns []string
	mu      sync.Mutex
}

// NewCSVWriter creates filename and writes the header row if columns are
// known.
func NewCSVWriter(filename string, columns []string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	cw := &CSVWriter{file: f, writer: csv.NewWriter(f)}
	if len(columns) > 0 {
		if err := cw.writeHeader(columns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cw, nil
}

func (cw *CSVWriter) writeHeader(columns []string) error {
	cw.columns = append([]string(nil), columns...)
	if err := cw.writer.Write(cw.columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv header: %w", err)
	}
	return nil
}

// Write appends records to the CSV output. Columns a record lacks are
// written empty.
func (cw *CSVWriter) Write(records []models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, rec := range records {
		values := rec.Columns()
		if cw.columns == nil {
			if err := cw.writeHeader(inferColumns(values)); err != nil {
				return err
			}
		}
		row := make([]string, len(cw.columns))
		for i, col := range cw.columns {
			row[i] = values[col]
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// inferColumns puts url first and the remaining columns in sorted order.
func inferColumns(values map[string]string) []string {
	cols := make([]string, 0, len(values))
	for k := range values {
		if k != "url" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return append([]string{"url"}, cols...)
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []models.Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, rec := range records {
		if err := jw.encoder.Encode(rec); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// NewWriter builds the writer for format: "csv", "json" or "dual". For
// "dual" the JSON lines go next to filename with a .jsonl extension.
func NewWriter(format, filename string, columns []string) (OutputWriter, error) {
	var (
		w   OutputWriter
		err error
	)
	switch strings.ToLower(format) {
	case "csv":
		w, err = NewCSVWriter(filename, columns)
	case "json", "jsonl":
		w, err = NewJSONWriter(filename)
	case "dual", "both":
		w, err = NewDualWriter(filename, withExt(filename, ".jsonl"), columns)
	default:
		return nil, models.NewConfigError("output_format", "unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func withExt(filename, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
