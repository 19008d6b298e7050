package reportstore

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/operations-runner/operations"
)

// Format is the encoding of report files.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Validate returns an error for unknown formats. The empty format defaults to YAML.
func (f Format) Validate() error {
	switch f {
	case FormatYAML, FormatJSON, "":
		return nil
	default:
		return fmt.Errorf("reports: unknown format %q", f)
	}
}

func (f Format) ext() string {
	if f == FormatJSON {
		return ".json"
	}

	return ".yaml"
}

func (f Format) marshal(r operations.RunReport) ([]byte, error) {
	if f == FormatJSON {
		return json.MarshalIndent(r, "", "  ")
	}

	return yaml.Marshal(r)
}

func (f Format) unmarshal(b []byte, r *operations.RunReport) error {
	if f == FormatJSON {
		return json.Unmarshal(b, r)
	}

	return yaml.Unmarshal(b, r)
}

// FileStore stores each report as a file named after the report ID.
type FileStore struct {
	dir    string
	format Format

	mu sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore writing to dir, creating the directory if needed.
func NewFileStore(dir string, format Format) (*FileStore, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatYAML
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports dir: %w", err)
	}

	return &FileStore{dir: dir, format: format}, nil
}

// AddReport writes the report to a new file.
func (s *FileStore) AddReport(report operations.RunReport) error {
	if report.ID == "" {
		return errors.New("report has no id")
	}

	b, err := s.format.marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report %s: %w", report.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(report.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("report_id %s: %w", report.ID, ErrReportExists)
		}

		return fmt.Errorf("failed to create report file: %w", err)
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report %s: %w", report.ID, err)
	}

	return f.Close()
}

// GetReport reads the report with the given ID.
func (s *FileStore) GetReport(id string) (operations.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return operations.RunReport{}, fmt.Errorf("report_id %s: %w", id, operations.ErrReportNotFound)
		}

		return operations.RunReport{}, fmt.Errorf("failed to read report %s: %w", id, err)
	}

	var report operations.RunReport
	if err := s.format.unmarshal(b, &report); err != nil {
		return operations.RunReport{}, fmt.Errorf("failed to decode report %s: %w", id, err)
	}

	return report, nil
}

// GetReports returns every report in the directory ordered by start time.
// Files with another extension are ignored.
func (s *FileStore) GetReports() ([]operations.RunReport, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	reports := make([]operations.RunReport, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != s.format.ext() {
			continue
		}
		report, err := s.GetReport(strings.TrimSuffix(e.Name(), s.format.ext()))
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	slices.SortStableFunc(reports, func(a, b operations.RunReport) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return reports, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id)+s.format.ext())
}
