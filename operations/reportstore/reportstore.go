// Package reportstore provides persistent implementations of operations.Reporter.
//
// A FileStore keeps one YAML or JSON document per run in a directory. A SQLStore keeps the reports
// in a SQL table and is backed by Postgres in production.
package reportstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/smartcontractkit/operations-runner/operations"
)

// ErrReportExists is returned when a report with the same ID was already stored.
var ErrReportExists = errors.New("report already exists")

// Store is a Reporter holding resources that must be released.
type Store interface {
	operations.Reporter
	io.Closer
}

// Type is the kind of report store.
type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeSQL    Type = "postgres"
)

// Config selects and configures a report store.
type Config struct {
	Type   Type   `mapstructure:"type" yaml:"type" toml:"type"`
	Dir    string `mapstructure:"dir" yaml:"dir" toml:"dir"`
	Format Format `mapstructure:"format" yaml:"format" toml:"format"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" toml:"dsn"`
}

// Validate checks that the fields required by the store type are set.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory, "":
		return nil
	case TypeFile:
		if c.Dir == "" {
			return errors.New("reports: dir is required for the file store")
		}

		return c.Format.Validate()
	case TypeSQL:
		if c.DSN == "" {
			return errors.New("reports: dsn is required for the postgres store")
		}

		return nil
	default:
		return fmt.Errorf("reports: unknown store type %q", c.Type)
	}
}

// Open creates the store described by cfg. An empty type opens an in-memory store.
func Open(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeFile:
		return NewFileStore(cfg.Dir, cfg.Format)
	case TypeSQL:
		return OpenPostgres(cfg.DSN)
	default:
		return nopCloser{operations.NewMemoryReporter()}, nil
	}
}

type nopCloser struct {
	operations.Reporter
}

func (nopCloser) Close() error { return nil }
