package plugin

import (
	"context"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/pkg/logger"
)

// Source is the contract every crawler plugin implements. Sources behave as
// full scan when the payload has no webhookPayload key, delta sync otherwise.
type Source interface {
	// Init prepares per-run resources. Failure short-circuits the pipeline.
	Init(ctx context.Context) error

	// Execute performs the crawl and returns raw records plus any
	// continuation cursors under Result.Data.
	Execute(ctx context.Context, payload models.JSON) (*Result, error)
}

// Result is the uniform source return envelope. Data normally holds
// {"data": [...records], "startPageToken": ..., "nextPageToken": ...,
// "otherCrawlerSpecificTokens": {...}}; lenient shapes are flattened by the
// orchestrator.
type Result struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Transformer converts raw source records into ingestion records. Must be
// total: per-item failures become records with a non-200 status code.
type Transformer func(raw []interface{}, payload models.JSON) []models.IngestionRecord

// Destination receives the transformed record stream
type Destination interface {
	Init(ctx context.Context) error
	ProcessData(ctx context.Context, records []models.IngestionRecord) error
}

// SourceFactory constructs a per-run source bound to the task's source config
type SourceFactory func(config models.JSON, log *logger.Logger) (Source, error)

// DestinationFactory constructs a per-run destination bound to the task's
// destination config
type DestinationFactory func(config models.JSON, log *logger.Logger) (Destination, error)

// Cursors are the continuation tokens a source may return with its result
type Cursors struct {
	StartPageToken string
	NextPageToken  string
	Other          models.JSON
}

// Empty reports whether the source returned no cursors at all
func (c Cursors) Empty() bool {
	return c.StartPageToken == "" && c.NextPageToken == "" && len(c.Other) == 0
}
