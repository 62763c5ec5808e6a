// Package persistence writes data to files, with support for different
// serialization formats. Run reports written here share their naming with the
// MongoDB report store.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrej220/provchain/pkg/chain"
	reportstore "github.com/andrej220/provchain/pkg/persistence"
	"github.com/spf13/afero"
)

const (
	indent = "    " // Default indentation for JSON output (4 spaces)
	prefix = ""     // Default prefix for JSON output
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter writes files on Fs, the OS filesystem when nil.
type FileWriter struct {
	Overwrite bool
	Fs        afero.Fs
}

func (w FileWriter) fs() afero.Fs {
	if w.Fs == nil {
		return afero.NewOsFs()
	}
	return w.Fs
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	fs := w.fs()
	if _, err := fs.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := fs.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return afero.WriteFile(fs, filename, data, 0644)
}

// WriteJSONToFile persists data as JSON to a destination using the provided Serializer and Writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}

	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON persists data as JSON to a file with default settings (overwrite enabled, 4-space indent).
func WriteJSON(data any, filename string) error {
	serializer := JSONSerializer{Prefix: prefix, Indent: indent}
	writer := FileWriter{Overwrite: true}
	return WriteJSONToFile(data, filename, serializer, writer)
}

// ReportFiles saves run reports as JSON files in Dir.
type ReportFiles struct {
	Dir    string
	Prefix string
	Writer Writer
}

func (r ReportFiles) Path(machine string, rep *chain.Report) string {
	p := r.Prefix
	if p == "" {
		p = reportstore.DefaultPrefix
	}
	return filepath.Join(r.Dir, reportstore.DocID(p, machine, rep.RunID)+".json")
}

func (r ReportFiles) Save(_ context.Context, machine string, rep *chain.Report) error {
	if rep == nil {
		return fmt.Errorf("nil report: %w", os.ErrInvalid)
	}
	w := r.Writer
	if w == nil {
		w = FileWriter{Overwrite: true}
	}
	return WriteJSONToFile(rep, r.Path(machine, rep), JSONSerializer{Prefix: prefix, Indent: indent}, w)
}
