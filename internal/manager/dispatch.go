package manager

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/store"
	"github.com/ingestion-agent/internal/webhook"
)

// DispatchResult is the HTTP-shaped outcome of a webhook delivery
type DispatchResult struct {
	HTTPStatus int
	Message    string
	RunStatus  *models.RunStatus
}

// TriggerWebhook routes one inbound callback to every task fanned out from
// the matching subscription. Verification happens twice: a preliminary
// secretless parse to learn the external resource id, then the
// authenticated pass with the entry's shared secret. The status of the
// first fired task is returned; the rest still fire.
func (m *Manager) TriggerWebhook(ctx context.Context, endpointID string, body []byte, headers http.Header) (*DispatchResult, error) {
	log := m.log.WithEndpoint(endpointID)

	matching, err := m.endpointTasks(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if len(matching) == 0 {
		return &DispatchResult{HTTPStatus: http.StatusNotFound, Message: "no enabled task for endpoint"}, nil
	}

	pluginType := matching[0].Source.PluginType
	preliminary, err := webhook.Verify(pluginType, headers, body, "")
	if err != nil {
		log.Warn().Err(err).Msg("Webhook payload rejected")
		return &DispatchResult{HTTPStatus: http.StatusBadRequest, Message: err.Error()}, nil
	}

	entry, err := m.store.GetRegistration(ctx, preliminary.ExternalResourceID)
	if errors.Is(err, store.ErrNotFound) {
		return &DispatchResult{HTTPStatus: http.StatusOK, Message: "no subscription for resource"}, nil
	}
	if err != nil {
		return nil, err
	}

	verified, err := webhook.Verify(pluginType, headers, body, entry.Secret)
	if err != nil || !verified.Valid {
		log.Warn().Err(err).Str("source_identifier", entry.SourceIdentifier).Msg("Webhook authentication failed")
		return &DispatchResult{HTTPStatus: http.StatusUnauthorized, Message: "invalid webhook signature"}, nil
	}

	fanout := make([]*models.Task, 0, len(matching))
	for _, task := range matching {
		if entry.RegisteredTasks.Has(task.ID) {
			fanout = append(fanout, task)
		}
	}
	if len(fanout) == 0 {
		return &DispatchResult{HTTPStatus: http.StatusOK, Message: "no task matched"}, nil
	}

	// Events for one resource dispatch in receipt order
	lock := m.hookLock(entry.SourceIdentifier)
	lock.Lock()
	defer lock.Unlock()

	result := &DispatchResult{HTTPStatus: http.StatusOK, Message: "processed"}
	for i, task := range fanout {
		payload := m.webhookPayload(ctx, task, entry.SourceIdentifier, verified)
		status, err := m.runTask(ctx, task, payload, nil)
		if err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("Webhook-triggered run rejected")
			if i == 0 {
				result.HTTPStatus = http.StatusInternalServerError
				result.Message = err.Error()
			}
			continue
		}
		if i == 0 {
			result.RunStatus = status
		}
	}
	return result, nil
}

// endpointTasks lists enabled webhook tasks bound to the endpoint
func (m *Manager) endpointTasks(ctx context.Context, endpointID string) ([]*models.Task, error) {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Enabled && task.IsWebhook() && sameEndpoint(task.Trigger.EndpointID, endpointID) {
			out = append(out, task)
		}
	}
	return out, nil
}

// webhookPayload builds the orchestration payload for one fan-out target.
// The registry entry is re-read per task so cursors advanced by an earlier
// fan-out run are visible to later ones.
func (m *Manager) webhookPayload(ctx context.Context, task *models.Task, sid string, verified *webhook.VerifiedEvent) models.JSON {
	payload := models.JSON{
		models.PayloadKeyTaskDefinition:     task,
		models.PayloadKeyWebhookPayload:     verified.Payload,
		models.PayloadKeyExternalResourceID: verified.ExternalResourceID,
		models.PayloadKeyChangeType:         string(verified.ChangeType),
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

func sameEndpoint(a, b string) bool {
	return strings.Trim(a, "/") == strings.Trim(b, "/")
}
