package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ingestion-agent/internal/croneval"
	"github.com/ingestion-agent/internal/events"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/plugin"
	"github.com/ingestion-agent/internal/provider"
	"github.com/ingestion-agent/internal/store"
	"github.com/ingestion-agent/pkg/logger"
)

var (
	ErrTaskDisabled      = errors.New("task is disabled")
	ErrTaskRunning       = errors.New("task is already running")
	ErrUnknownPlugin     = errors.New("unknown plugin type")
	ErrUnsupportedSource = errors.New("source type does not support webhooks")
)

// Options tune the manager. Zero values select the defaults.
type Options struct {
	// CronWindow is the due-window tolerance for cron evaluation
	CronWindow time.Duration

	// Now is the clock used for cron evaluation and lastRun stamps
	Now func() time.Time
}

// Manager is the process-wide control plane over the task registry. It owns
// the store, webhook providers, plugin registry and event bus, and is the
// only writer of task status and webhook-registry fan-out sets.
type Manager struct {
	store     store.Store
	providers *provider.Registry
	plugins   *plugin.Registry
	bus       *events.Bus
	log       *logger.Logger
	opts      Options

	mu      sync.Mutex
	running map[string]struct{}
	hookMu  map[string]*sync.Mutex
	wg      sync.WaitGroup
}

// New creates a lifecycle manager. Call Init before use.
func New(
	st store.Store,
	providers *provider.Registry,
	plugins *plugin.Registry,
	bus *events.Bus,
	log *logger.Logger,
	opts Options,
) *Manager {
	if opts.CronWindow <= 0 {
		opts.CronWindow = croneval.DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     st,
		providers: providers,
		plugins:   plugins,
		bus:       bus,
		log:       log.WithComponent("manager"),
		opts:      opts,
		running:   make(map[string]struct{}),
		hookMu:    make(map[string]*sync.Mutex),
	}
}

// Init prepares persistent state
func (m *Manager) Init() error {
	return m.store.Migrate()
}

// Start marks the manager live. Triggering works without Start; the hook
// exists so callers have a symmetric lifecycle around Stop.
func (m *Manager) Start() {
	m.log.Info().Msg("Lifecycle manager started")
}

// Stop waits for in-flight runs to finish
func (m *Manager) Stop() {
	m.wg.Wait()
	m.log.Info().Msg("Lifecycle manager stopped")
}

// ScheduleTask validates and persists a new task. Webhook-triggered enabled
// tasks are registered with their provider before the call returns; a
// registration failure leaves the task persisted in Failed state.
func (m *Manager) ScheduleTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, _, ok := m.plugins.LookupSource(task.Source.PluginType); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, task.Source.PluginType)
	}
	if task.Destination != nil {
		if _, ok := m.plugins.LookupDestination(task.Destination.PluginType); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, task.Destination.PluginType)
		}
	}

	task.CurrentStatus = models.TaskStatusScheduled
	if err := m.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	if task.Enabled && task.IsWebhook() {
		updated, err := m.registerWebhook(ctx, task)
		if err != nil {
			failed := models.TaskStatusFailed
			if _, uerr := m.store.UpdateTask(ctx, task.ID, store.TaskPatch{CurrentStatus: &failed}); uerr != nil {
				m.log.Error().Err(uerr).Str("task_id", task.ID).Msg("Failed to mark task failed")
			}
			return task, fmt.Errorf("webhook registration failed: %w", err)
		}
		task = updated
	}

	m.bus.Publish(events.Event{Type: events.TaskScheduled, TaskID: task.ID})
	m.log.Info().Str("task_id", task.ID).Str("name", task.Name).Msg("Task scheduled")
	return task, nil
}

// GetTask returns one task by id
func (m *Manager) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return m.store.GetTask(ctx, id)
}

// ListTasks returns all tasks
func (m *Manager) ListTasks(ctx context.Context) ([]*models.Task, error) {
	return m.store.ListTasks(ctx)
}

// UpdateTask applies a partial update and mirrors any trigger or source
// change into the webhook registry: the old subscription is released when
// the task stops being webhook-triggered or its source identifier changes,
// and a new one is acquired when needed.
func (m *Manager) UpdateTask(ctx context.Context, id string, patch store.TaskPatch) (*models.Task, error) {
	old, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	preview := old.Clone()
	store.ApplyTaskPatch(preview, patch)

	wasHooked := old.Enabled && old.IsWebhook()
	nowHooked := preview.Enabled && preview.IsWebhook()
	oldSID := old.SourceIdentifier()
	newSID := preview.SourceIdentifier()

	if wasHooked && (!nowHooked || oldSID != newSID) {
		if err := m.deregisterTask(ctx, old); err != nil {
			return nil, fmt.Errorf("webhook deregistration failed: %w", err)
		}
	}

	updated, err := m.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	if nowHooked && (!wasHooked || oldSID != newSID) {
		updated, err = m.registerWebhook(ctx, updated)
		if err != nil {
			failed := models.TaskStatusFailed
			if _, uerr := m.store.UpdateTask(ctx, id, store.TaskPatch{CurrentStatus: &failed}); uerr != nil {
				m.log.Error().Err(uerr).Str("task_id", id).Msg("Failed to mark task failed")
			}
			return updated, fmt.Errorf("webhook registration failed: %w", err)
		}
	}

	m.bus.Publish(events.Event{Type: events.TaskUpdated, TaskID: id})
	return updated, nil
}

// EnableTask re-enables a task. No-op if already enabled.
func (m *Manager) EnableTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Enabled {
		return task, nil
	}
	enabled := true
	return m.UpdateTask(ctx, id, store.TaskPatch{Enabled: &enabled})
}

// DisableTask disables a task, releasing its webhook fan-out slot. No-op if
// already disabled.
func (m *Manager) DisableTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Enabled {
		return task, nil
	}
	enabled := false
	return m.UpdateTask(ctx, id, store.TaskPatch{Enabled: &enabled})
}

// DeleteTask removes a task. A webhook-triggered task is deregistered first;
// if that fails the delete is aborted and the task retained.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task.IsWebhook() {
		if err := m.deregisterTask(ctx, task); err != nil {
			return fmt.Errorf("webhook deregistration failed, task retained: %w", err)
		}
	}

	if err := m.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.bus.Publish(events.Event{Type: events.TaskDeleted, TaskID: id})
	m.log.Info().Str("task_id", id).Msg("Task deleted")
	return nil
}

// TriggerManual fires one task outside its schedule. Disabled tasks are
// rejected.
func (m *Manager) TriggerManual(ctx context.Context, id string, payload models.JSON) (*models.RunStatus, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Enabled {
		return nil, ErrTaskDisabled
	}

	merged := m.basePayload(ctx, task)
	for k, v := range payload {
		merged[k] = v
	}
	return m.runTask(ctx, task, merged, nil)
}

// basePayload builds the payload skeleton for a run: the task definition
// plus any continuation cursors persisted for its source identifier
func (m *Manager) basePayload(ctx context.Context, task *models.Task) models.JSON {
	payload := models.JSON{models.PayloadKeyTaskDefinition: task}

	sid := task.SourceIdentifier()
	if sid == "" {
		return payload
	}
	entry, err := m.store.GetRegistration(ctx, sid)
	if err != nil {
		return payload
	}
	if entry.StartPageToken != "" {
		payload[models.PayloadKeyStartPageToken] = entry.StartPageToken
	}
	if entry.NextPageToken != "" {
		payload[models.PayloadKeyNextPageToken] = entry.NextPageToken
	}
	if len(entry.CrawlerTokens) > 0 {
		payload[models.PayloadKeyCrawlerTokens] = entry.CrawlerTokens
	}
	return payload
}

// hookLock returns the dispatch mutex for one source identifier. Webhook
// events for the same resource are processed in receipt order; distinct
// resources run in parallel.
func (m *Manager) hookLock(sourceIdentifier string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.hookMu[sourceIdentifier]
	if !ok {
		l = &sync.Mutex{}
		m.hookMu[sourceIdentifier] = l
	}
	return l
}

// newSecret returns 20 random bytes hex-encoded
func newSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
