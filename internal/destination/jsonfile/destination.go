package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/plugin"
	"github.com/ingestion-agent/pkg/logger"
)

// Destination appends ingestion records as NDJSON to a configured file.
// Reference destination plugin; one instance per run.
type Destination struct {
	path string
	mu   sync.Mutex
	log  *logger.Logger
}

// New creates a jsonfile destination from the task's destination config
func New(cfg models.JSON, log *logger.Logger) (*Destination, error) {
	path := cfg.GetString("path")
	if path == "" {
		return nil, fmt.Errorf("missing path in destination config")
	}
	return &Destination{
		path: path,
		log:  log.WithComponent("jsonfile-destination"),
	}, nil
}

// Init ensures the target directory exists
func (d *Destination) Init(ctx context.Context) error {
	dir := filepath.Dir(d.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}

// ProcessData appends each record as one JSON line
func (d *Destination) ProcessData(ctx context.Context, records []models.IngestionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	file, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", d.path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to write record %s: %w", records[i].ID, err)
		}
	}

	d.log.Debug().Int("records", len(records)).Str("path", d.path).Msg("Records written")
	return nil
}

var _ plugin.Destination = (*Destination)(nil)
