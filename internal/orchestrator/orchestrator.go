package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ingestion-agent/internal/events"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/plugin"
	"github.com/ingestion-agent/pkg/logger"
)

// Orchestrator drives one task invocation through the pipeline:
// source init → execute → flatten → transform → deliver, emitting lifecycle
// events at each stage. One instance per invocation.
type Orchestrator struct {
	task        *models.Task
	source      plugin.Source
	transformer plugin.Transformer
	destination plugin.Destination
	bus         *events.Bus
	log         *logger.Logger
}

// New creates an orchestrator for a single run. destination may be nil, in
// which case results are emitted as events only.
func New(
	task *models.Task,
	source plugin.Source,
	transformer plugin.Transformer,
	destination plugin.Destination,
	bus *events.Bus,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		task:        task,
		source:      source,
		transformer: transformer,
		destination: destination,
		bus:         bus,
		log:         log.WithComponent("orchestrator").WithTask(task.ID),
	}
}

// Run executes the pipeline. It never panics outward: every failure from
// source, transformer or destination is converted into a failed RunStatus
// and a TaskFailed event. The returned cursors are whatever continuation
// tokens the source produced.
func (o *Orchestrator) Run(ctx context.Context, payload models.JSON) (*models.RunStatus, plugin.Cursors) {
	status := &models.RunStatus{StartedAt: time.Now(), Code: 200, Success: true}
	var cursors plugin.Cursors

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Interface("panic", r).Msg("Pipeline panicked")
				o.fail(status, 500, fmt.Sprintf("internal error: %v", r))
			}
		}()
		cursors = o.execute(ctx, payload, status)
	}()

	status.FinishedAt = time.Now()
	if status.Success {
		o.emit(events.TaskCompleted, models.JSON{
			"items_processed": status.ItemsProcessed,
			"code":            status.Code,
		})
	} else {
		o.emit(events.TaskFailed, models.JSON{
			"code":    status.Code,
			"message": status.Message,
		})
	}
	return status, cursors
}

func (o *Orchestrator) execute(ctx context.Context, payload models.JSON, status *models.RunStatus) plugin.Cursors {
	if closer, ok := o.source.(io.Closer); ok {
		defer closer.Close()
	}

	if err := o.source.Init(ctx); err != nil {
		o.fail(status, 500, fmt.Sprintf("source init failed: %v", err))
		return plugin.Cursors{}
	}

	result, err := o.source.Execute(ctx, payload)
	if err != nil {
		o.fail(status, 502, fmt.Sprintf("source execute failed: %v", err))
		return plugin.Cursors{}
	}
	if result == nil {
		o.fail(status, 502, "source returned no result")
		return plugin.Cursors{}
	}
	if !result.Success {
		code := result.Code
		if code == 0 || code == 200 {
			code = 502
		}
		o.fail(status, code, result.Message)
		return plugin.Cursors{}
	}

	raw, cursors := o.flatten(result.Data)
	o.emit(events.DataFetched, models.JSON{"record_count": len(raw)})

	if ctx.Err() != nil {
		o.fail(status, 500, fmt.Sprintf("run canceled: %v", ctx.Err()))
		return cursors
	}

	enriched := payload.Clone()
	if enriched == nil {
		enriched = models.JSON{}
	}
	enriched[models.PayloadKeyFetchedAt] = time.Now().UTC().Format(time.RFC3339)

	records := o.transformer(raw, enriched)
	o.emit(events.DataTransformed, models.JSON{"record_count": len(records)})

	if ctx.Err() != nil {
		o.fail(status, 500, fmt.Sprintf("run canceled: %v", ctx.Err()))
		return cursors
	}

	if o.destination != nil {
		if err := o.destination.Init(ctx); err != nil {
			o.fail(status, 502, fmt.Sprintf("destination init failed: %v", err))
			return cursors
		}
		if err := o.destination.ProcessData(ctx, records); err != nil {
			o.fail(status, 502, fmt.Sprintf("destination failed: %v", err))
			return cursors
		}
		status.ItemsProcessed = len(records)
		o.emit(events.DataProcessed, models.JSON{"record_count": len(records)})
	} else {
		// No destination configured: the records themselves ride the event
		status.ItemsProcessed = len(records)
		o.emit(events.DataProcessed, models.JSON{
			"record_count": len(records),
			"records":      records,
		})
	}

	status.Message = fmt.Sprintf("processed %d records", status.ItemsProcessed)
	return cursors
}

// flatten normalizes the lenient source result shapes into a raw record list
// plus any continuation cursors. data.data list → as-is; scalar data →
// singleton; absent → empty.
func (o *Orchestrator) flatten(data interface{}) ([]interface{}, plugin.Cursors) {
	var cursors plugin.Cursors

	switch v := data.(type) {
	case nil:
		o.log.Warn().Msg("Source returned no data")
		return nil, cursors
	case []interface{}:
		return v, cursors
	case map[string]interface{}:
		cursors = extractCursors(v)
		inner, ok := v["data"]
		if !ok || inner == nil {
			o.log.Warn().Msg("Source result carries no data field")
			return nil, cursors
		}
		if list, ok := inner.([]interface{}); ok {
			return list, cursors
		}
		return []interface{}{inner}, cursors
	default:
		return []interface{}{v}, cursors
	}
}

func extractCursors(data map[string]interface{}) plugin.Cursors {
	cursors := plugin.Cursors{}
	if s, ok := data[models.PayloadKeyStartPageToken].(string); ok {
		cursors.StartPageToken = s
	}
	if s, ok := data[models.PayloadKeyNextPageToken].(string); ok {
		cursors.NextPageToken = s
	}
	if m, ok := data[models.PayloadKeyCrawlerTokens].(map[string]interface{}); ok && len(m) > 0 {
		cursors.Other = models.JSON(m)
	}
	return cursors
}

func (o *Orchestrator) fail(status *models.RunStatus, code int, message string) {
	status.Success = false
	status.Code = code
	status.Message = message
}

func (o *Orchestrator) emit(t events.Type, data models.JSON) {
	o.bus.Publish(events.Event{Type: t, TaskID: o.task.ID, Data: data})
}
