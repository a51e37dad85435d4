package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/store"
)

func newTask(id string) *models.Task {
	return &models.Task{
		ID:      id,
		Name:    "task " + id,
		Enabled: true,
		Source: models.PluginSpec{
			PluginType: models.PluginGitCrawler,
			Config:     models.JSON{"repoUrl": "https://github.com/ex/" + id},
		},
		Trigger:       models.Trigger{Type: models.TriggerTypeManual},
		CurrentStatus: models.TaskStatusScheduled,
	}
}

func TestTaskCRUD(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SaveTask(ctx, newTask("t1")))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal("task t1", got.Name)

	// Duplicate ids conflict
	assert.ErrorIs(s.SaveTask(ctx, newTask("t1")), store.ErrConflict)

	// Partial update leaves other fields alone
	name := "renamed"
	updated, err := s.UpdateTask(ctx, "t1", store.TaskPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal("renamed", updated.Name)
	assert.True(updated.Enabled)

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(tasks, 1)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.GetTask(ctx, "t1")
	assert.ErrorIs(err, store.ErrNotFound)
	assert.ErrorIs(s.DeleteTask(ctx, "t1"), store.ErrNotFound)
}

func TestUpdateMissingTask(t *testing.T) {
	s := New()
	_, err := s.UpdateTask(context.Background(), "ghost", store.TaskPatch{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetTaskReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveTask(ctx, newTask("t1")))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	got.Name = "mutated"
	got.Source.Config["repoUrl"] = "mutated"

	fresh, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "task t1", fresh.Name)
	assert.Equal(t, "https://github.com/ex/t1", fresh.Source.Config.GetString("repoUrl"))
}

func TestRegistrationCRUD(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := New()

	entry := &models.WebhookRegistration{
		SourceIdentifier: "https://github.com/ex/r",
		Secret:           "abc",
		RegisteredTasks:  models.NewStringSet("t1"),
		NextPageToken:    "n1",
		CrawlerTokens:    models.JSON{"etag": "e1"},
	}
	require.NoError(t, s.SaveRegistration(ctx, entry))

	got, err := s.GetRegistration(ctx, entry.SourceIdentifier)
	require.NoError(t, err)
	assert.Equal("abc", got.Secret)
	assert.True(got.RegisteredTasks.Has("t1"))

	// Patch without cursors must not erase previous ones
	tasks := models.NewStringSet("t1", "t2")
	updated, err := s.UpdateRegistration(ctx, entry.SourceIdentifier, store.RegistrationPatch{RegisteredTasks: &tasks})
	require.NoError(t, err)
	assert.Equal("n1", updated.NextPageToken)
	assert.Equal(2, updated.RegisteredTasks.Len())

	// Cursor patch replaces the token and merges crawler tokens
	next := "n2"
	updated, err = s.UpdateRegistration(ctx, entry.SourceIdentifier, store.RegistrationPatch{
		NextPageToken: &next,
		CrawlerTokens: models.JSON{"cursor": "c9"},
	})
	require.NoError(t, err)
	assert.Equal("n2", updated.NextPageToken)
	assert.Equal("e1", updated.CrawlerTokens.GetString("etag"))
	assert.Equal("c9", updated.CrawlerTokens.GetString("cursor"))

	require.NoError(t, s.DeleteRegistration(ctx, entry.SourceIdentifier))
	_, err = s.GetRegistration(ctx, entry.SourceIdentifier)
	assert.ErrorIs(err, store.ErrNotFound)
}

func TestConcurrentRegistrationUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveRegistration(ctx, &models.WebhookRegistration{
		SourceIdentifier: "sid",
		RegisteredTasks:  models.NewStringSet(),
	}))

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			id := string(rune('a' + i))
			entry, err := s.GetRegistration(ctx, "sid")
			if err != nil {
				return
			}
			tasks := entry.RegisteredTasks.Clone()
			tasks.Add(id)
			_, _ = s.UpdateRegistration(ctx, "sid", store.RegistrationPatch{RegisteredTasks: &tasks})
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	// Not asserting the merge result: the manager owns read-modify-write
	// semantics. The store must simply survive concurrent access.
	entry, err := s.GetRegistration(ctx, "sid")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}
