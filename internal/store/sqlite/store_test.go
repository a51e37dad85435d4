package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskPersistence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	task := &models.Task{
		ID:      "t1",
		Name:    "persisted",
		Enabled: true,
		Source: models.PluginSpec{
			PluginType: models.PluginGitCrawler,
			Config:     models.JSON{"repoUrl": "https://github.com/ex/r"},
		},
		Trigger: models.Trigger{
			Type:       models.TriggerTypeWebhook,
			EndpointID: "/gh",
			Secret:     "abc",
		},
		CurrentStatus: models.TaskStatusScheduled,
	}
	require.NoError(t, s.SaveTask(ctx, task))
	assert.ErrorIs(s.SaveTask(ctx, task), store.ErrConflict)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal("persisted", got.Name)
	assert.Equal(models.TriggerTypeWebhook, got.Trigger.Type)
	assert.Equal("abc", got.Trigger.Secret)
	assert.Equal("https://github.com/ex/r", got.Source.Config.GetString("repoUrl"))

	status := models.TaskStatusCompleted
	updated, err := s.UpdateTask(ctx, "t1", store.TaskPatch{CurrentStatus: &status})
	require.NoError(t, err)
	assert.Equal(models.TaskStatusCompleted, updated.CurrentStatus)
	assert.Equal("persisted", updated.Name)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.GetTask(ctx, "t1")
	assert.ErrorIs(err, store.ErrNotFound)
}

func TestRegistrationPersistence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	entry := &models.WebhookRegistration{
		SourceIdentifier:  "https://github.com/ex/r",
		EndpointID:        "/gh",
		Secret:            "abc",
		ExternalWebhookID: "42",
		RegisteredTasks:   models.NewStringSet("t1", "t2"),
		CrawlerTokens:     models.JSON{"etag": "e1"},
		Active:            true,
	}
	require.NoError(t, s.SaveRegistration(ctx, entry))

	got, err := s.GetRegistration(ctx, entry.SourceIdentifier)
	require.NoError(t, err)
	assert.Equal("42", got.ExternalWebhookID)
	assert.True(got.RegisteredTasks.Has("t1"))
	assert.True(got.RegisteredTasks.Has("t2"))
	assert.Equal("e1", got.CrawlerTokens.GetString("etag"))

	next := "n9"
	updated, err := s.UpdateRegistration(ctx, entry.SourceIdentifier, store.RegistrationPatch{
		NextPageToken: &next,
		CrawlerTokens: models.JSON{"cursor": "c1"},
	})
	require.NoError(t, err)
	assert.Equal("n9", updated.NextPageToken)
	assert.Equal("e1", updated.CrawlerTokens.GetString("etag"))
	assert.Equal("c1", updated.CrawlerTokens.GetString("cursor"))

	require.NoError(t, s.DeleteRegistration(ctx, entry.SourceIdentifier))
	_, err = s.GetRegistration(ctx, entry.SourceIdentifier)
	assert.ErrorIs(err, store.ErrNotFound)
}

func TestUpdateMissingRowsReturnNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.UpdateTask(ctx, "ghost", store.TaskPatch{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UpdateRegistration(ctx, "ghost", store.RegistrationPatch{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, "ghost"), store.ErrNotFound)
}
