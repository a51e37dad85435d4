package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/store"
)

// registerWebhook attaches a task to the shared subscription for its source
// identifier, creating the external subscription only when the task is the
// first one for that resource. Returns the task with trigger secret and
// external webhook id filled in.
func (m *Manager) registerWebhook(ctx context.Context, task *models.Task) (*models.Task, error) {
	sid := task.SourceIdentifier()
	if sid == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, task.Source.PluginType)
	}

	entry, err := m.store.GetRegistration(ctx, sid)
	switch {
	case err == nil:
		// Shared subscription exists: join its fan-out set, no external call
		tasks := entry.RegisteredTasks.Clone()
		tasks.Add(task.ID)
		if _, err := m.store.UpdateRegistration(ctx, sid, store.RegistrationPatch{RegisteredTasks: &tasks}); err != nil {
			return nil, err
		}
		return m.adoptRegistration(ctx, task, entry.ExternalWebhookID, entry.Secret)

	case errors.Is(err, store.ErrNotFound):
		return m.createRegistration(ctx, task, sid)

	default:
		return nil, err
	}
}

// createRegistration provisions a fresh external subscription and persists
// the registry entry. A provider failure leaves no entry behind.
func (m *Manager) createRegistration(ctx context.Context, task *models.Task, sid string) (*models.Task, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	p, err := m.providers.For(task.Source.PluginType)
	if err != nil {
		return nil, err
	}

	reg, err := p.Register(ctx, sid, task.Trigger.CallbackURL, secret, task.Trigger.Credentials)
	if err != nil {
		return nil, fmt.Errorf("provider register failed for %s: %w", sid, err)
	}

	entry := &models.WebhookRegistration{
		SourceIdentifier:  sid,
		EndpointID:        task.Trigger.EndpointID,
		Secret:            secret,
		ExternalWebhookID: reg.ExternalID,
		RegisteredTasks:   models.NewStringSet(task.ID),
		StartPageToken:    reg.StartPageToken,
		NextPageToken:     reg.NextPageToken,
		CrawlerTokens:     reg.Extra,
		Active:            true,
	}
	if err := m.store.SaveRegistration(ctx, entry); err != nil {
		return nil, err
	}

	m.log.Info().
		Str("task_id", task.ID).
		Str("source_identifier", sid).
		Str("external_webhook_id", reg.ExternalID).
		Msg("Created external webhook subscription")

	return m.adoptRegistration(ctx, task, reg.ExternalID, secret)
}

// adoptRegistration copies the shared subscription identity into the task
// trigger and persists it
func (m *Manager) adoptRegistration(ctx context.Context, task *models.Task, externalID, secret string) (*models.Task, error) {
	trigger := task.Trigger
	trigger.ExternalWebhookID = externalID
	trigger.Secret = secret
	return m.store.UpdateTask(ctx, task.ID, store.TaskPatch{Trigger: &trigger})
}

// deregisterTask removes a task from its shared subscription. When the
// fan-out set empties, the external subscription is torn down and the entry
// deleted in the same flow; a provider failure restores the task into the
// set and surfaces the error.
func (m *Manager) deregisterTask(ctx context.Context, task *models.Task) error {
	sid := task.SourceIdentifier()
	if sid == "" {
		return nil
	}

	entry, err := m.store.GetRegistration(ctx, sid)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	tasks := entry.RegisteredTasks.Clone()
	tasks.Remove(task.ID)
	if _, err := m.store.UpdateRegistration(ctx, sid, store.RegistrationPatch{RegisteredTasks: &tasks}); err != nil {
		return err
	}

	if tasks.Len() > 0 {
		return nil
	}

	p, err := m.providers.For(task.Source.PluginType)
	if err == nil {
		err = p.Deregister(ctx, entry.ExternalWebhookID, sid, task.Trigger.Credentials)
	}
	if err != nil {
		// Restore the fan-out slot so the entry stays consistent
		restored := tasks.Clone()
		restored.Add(task.ID)
		if _, rerr := m.store.UpdateRegistration(ctx, sid, store.RegistrationPatch{RegisteredTasks: &restored}); rerr != nil {
			m.log.Error().Err(rerr).Str("source_identifier", sid).Msg("Failed to restore fan-out set")
		}
		return fmt.Errorf("provider deregister failed for %s: %w", sid, err)
	}

	if err := m.store.DeleteRegistration(ctx, sid); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	m.log.Info().
		Str("task_id", task.ID).
		Str("source_identifier", sid).
		Msg("Removed external webhook subscription")
	return nil
}
