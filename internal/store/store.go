package store

import (
	"context"
	"errors"
	"time"

	"github.com/ingestion-agent/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// TaskPatch is a partial task update; nil fields are left unchanged
type TaskPatch struct {
	Name          *string
	Enabled       *bool
	Source        *models.PluginSpec
	Destination   *models.PluginSpec
	Trigger       *models.Trigger
	CurrentStatus *models.TaskStatus
	LastRun       *time.Time
	LastRunStatus *models.RunStatus
}

// RegistrationPatch is a partial webhook-registration update; nil fields are
// left unchanged. CrawlerTokens entries are merged key-by-key, not replaced.
type RegistrationPatch struct {
	EndpointID        *string
	Secret            *string
	ExternalWebhookID *string
	RegisteredTasks   *models.StringSet
	StartPageToken    *string
	NextPageToken     *string
	CrawlerTokens     models.JSON
	Active            *bool
}

// Store persists tasks and webhook registrations. Implementations must be
// safe under concurrent callers and must serialize writes per key so that
// read-modify-write of RegisteredTasks and cursors never loses updates.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]*models.Task, error)

	GetRegistration(ctx context.Context, sourceIdentifier string) (*models.WebhookRegistration, error)
	SaveRegistration(ctx context.Context, entry *models.WebhookRegistration) error
	UpdateRegistration(ctx context.Context, sourceIdentifier string, patch RegistrationPatch) (*models.WebhookRegistration, error)
	DeleteRegistration(ctx context.Context, sourceIdentifier string) error

	Migrate() error
	Close() error
}

// ApplyTaskPatch mutates task in place with the non-nil patch fields
func ApplyTaskPatch(task *models.Task, patch TaskPatch) {
	if patch.Name != nil {
		task.Name = *patch.Name
	}
	if patch.Enabled != nil {
		task.Enabled = *patch.Enabled
	}
	if patch.Source != nil {
		task.Source = *patch.Source
	}
	if patch.Destination != nil {
		task.Destination = patch.Destination
	}
	if patch.Trigger != nil {
		task.Trigger = *patch.Trigger
	}
	if patch.CurrentStatus != nil {
		task.CurrentStatus = *patch.CurrentStatus
	}
	if patch.LastRun != nil {
		task.LastRun = patch.LastRun
	}
	if patch.LastRunStatus != nil {
		task.LastRunStatus = patch.LastRunStatus
	}
}

// ApplyRegistrationPatch mutates entry in place with the non-nil patch fields
func ApplyRegistrationPatch(entry *models.WebhookRegistration, patch RegistrationPatch) {
	if patch.EndpointID != nil {
		entry.EndpointID = *patch.EndpointID
	}
	if patch.Secret != nil {
		entry.Secret = *patch.Secret
	}
	if patch.ExternalWebhookID != nil {
		entry.ExternalWebhookID = *patch.ExternalWebhookID
	}
	if patch.RegisteredTasks != nil {
		entry.RegisteredTasks = *patch.RegisteredTasks
	}
	if patch.StartPageToken != nil {
		entry.StartPageToken = *patch.StartPageToken
	}
	if patch.NextPageToken != nil {
		entry.NextPageToken = *patch.NextPageToken
	}
	if len(patch.CrawlerTokens) > 0 {
		if entry.CrawlerTokens == nil {
			entry.CrawlerTokens = models.JSON{}
		}
		for k, v := range patch.CrawlerTokens {
			entry.CrawlerTokens[k] = v
		}
	}
	if patch.Active != nil {
		entry.Active = *patch.Active
	}
}
