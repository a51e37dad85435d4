package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ingestion-agent/internal/events"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/orchestrator"
	"github.com/ingestion-agent/internal/plugin"
	"github.com/ingestion-agent/internal/store"
)

// runTask drives one orchestrator invocation for the task, updating status,
// lastRun and cursors around it. At most one run per task id is active at a
// time. scheduledAt, when set, becomes the recorded lastRun (cron slots are
// consumed by their scheduled moment, not the wall clock of execution).
func (m *Manager) runTask(ctx context.Context, task *models.Task, payload models.JSON, scheduledAt *time.Time) (*models.RunStatus, error) {
	if err := m.acquireRun(ctx, task.ID); err != nil {
		return nil, err
	}
	m.wg.Add(1)
	defer func() {
		m.releaseRun(task.ID)
		m.wg.Done()
	}()

	running := models.TaskStatusRunning
	if _, err := m.store.UpdateTask(ctx, task.ID, store.TaskPatch{CurrentStatus: &running}); err != nil {
		return nil, err
	}
	m.bus.Publish(events.Event{Type: events.TaskTriggered, TaskID: task.ID})

	status, cursors := m.executePipeline(ctx, task, payload)

	lastRun := m.opts.Now()
	if scheduledAt != nil {
		lastRun = *scheduledAt
	}
	final := models.TaskStatusCompleted
	if !status.Success {
		final = models.TaskStatusFailed
	}
	if _, err := m.store.UpdateTask(ctx, task.ID, store.TaskPatch{
		CurrentStatus: &final,
		LastRun:       &lastRun,
		LastRunStatus: status,
	}); err != nil {
		m.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to persist run result")
	}

	m.writeBackCursors(ctx, task, cursors)
	return status, nil
}

// executePipeline builds the per-run source, transformer and destination
// from the plugin registry and hands them to a fresh orchestrator
func (m *Manager) executePipeline(ctx context.Context, task *models.Task, payload models.JSON) (*models.RunStatus, plugin.Cursors) {
	factory, transformer, ok := m.plugins.LookupSource(task.Source.PluginType)
	if !ok {
		return failedStatus(500, fmt.Sprintf("unknown source plugin %s", task.Source.PluginType)), plugin.Cursors{}
	}

	src, err := factory(task.Source.Config, m.log)
	if err != nil {
		return failedStatus(500, fmt.Sprintf("source construction failed: %v", err)), plugin.Cursors{}
	}

	var dest plugin.Destination
	if task.Destination != nil {
		destFactory, ok := m.plugins.LookupDestination(task.Destination.PluginType)
		if !ok {
			return failedStatus(500, fmt.Sprintf("unknown destination plugin %s", task.Destination.PluginType)), plugin.Cursors{}
		}
		dest, err = destFactory(task.Destination.Config, m.log)
		if err != nil {
			return failedStatus(500, fmt.Sprintf("destination construction failed: %v", err)), plugin.Cursors{}
		}
	}

	orch := orchestrator.New(task, src, transformer, dest, m.bus, m.log)
	return orch.Run(ctx, payload)
}

// writeBackCursors merges source-returned continuation tokens into the
// registry entry for the task's source identifier. A run returning no
// cursors never erases previously persisted ones. Tasks without an entry
// get a minimal one created only when they are webhook-triggered.
func (m *Manager) writeBackCursors(ctx context.Context, task *models.Task, cursors plugin.Cursors) {
	if cursors.Empty() {
		return
	}
	sid := task.SourceIdentifier()
	if sid == "" {
		return
	}

	patch := store.RegistrationPatch{CrawlerTokens: cursors.Other}
	if cursors.StartPageToken != "" {
		patch.StartPageToken = &cursors.StartPageToken
	}
	if cursors.NextPageToken != "" {
		patch.NextPageToken = &cursors.NextPageToken
	}

	_, err := m.store.UpdateRegistration(ctx, sid, patch)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		m.log.Error().Err(err).Str("source_identifier", sid).Msg("Cursor write-back failed")
		return
	}
	if !task.IsWebhook() {
		return
	}

	// Webhook task without an entry: create a minimal one to hold the tokens
	entry := &models.WebhookRegistration{
		SourceIdentifier: sid,
		EndpointID:       task.Trigger.EndpointID,
		Secret:           task.Trigger.Secret,
		RegisteredTasks:  models.NewStringSet(task.ID),
		StartPageToken:   cursors.StartPageToken,
		NextPageToken:    cursors.NextPageToken,
		CrawlerTokens:    cursors.Other,
	}
	if err := m.store.SaveRegistration(ctx, entry); err != nil {
		m.log.Error().Err(err).Str("source_identifier", sid).Msg("Cursor write-back failed")
	}
}

// acquireRun enforces the one-active-run-per-task invariant
func (m *Manager) acquireRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.running[id]; busy {
		return ErrTaskRunning
	}
	if task, err := m.store.GetTask(ctx, id); err == nil && task.CurrentStatus == models.TaskStatusRunning {
		return ErrTaskRunning
	}
	m.running[id] = struct{}{}
	return nil
}

func (m *Manager) releaseRun(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

func failedStatus(code int, message string) *models.RunStatus {
	now := time.Now()
	return &models.RunStatus{
		Success:    false,
		Code:       code,
		Message:    message,
		StartedAt:  now,
		FinishedAt: now,
	}
}
