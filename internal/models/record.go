package models

import "time"

// Keys recognized in orchestration payloads handed to sources
const (
	PayloadKeyTaskDefinition     = "taskDefinition"
	PayloadKeyWebhookPayload     = "webhookPayload"
	PayloadKeyExternalResourceID = "externalResourceId"
	PayloadKeyChangeType         = "changeType"
	PayloadKeyStartPageToken     = "startPageToken"
	PayloadKeyNextPageToken      = "nextPageToken"
	PayloadKeyCrawlerTokens      = "otherCrawlerSpecificTokens"
	PayloadKeyFetchedAt          = "fetchedAt"
)

// IngestionRecord is the uniform transformer/destination interchange unit.
// StatusCode != 200 means Content holds an error description, not source data.
type IngestionRecord struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	URL        string    `json:"url,omitempty"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
	Metadata   JSON      `json:"metadata,omitempty"`
}

// IsError reports whether the record carries a fetch failure
func (r *IngestionRecord) IsError() bool {
	return r.StatusCode != 200
}
