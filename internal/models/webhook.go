package models

import "time"

// Plugin type names known to the source identifier derivation
const (
	PluginGitCrawler   = "git-crawler"
	PluginDriveCrawler = "googledrive-crawler"
	PluginHTTPCrawler  = "http-crawler"
)

// ChangeType is the classified intent of a webhook event
type ChangeType string

const (
	ChangeUpsert  ChangeType = "upsert"
	ChangeDelete  ChangeType = "delete"
	ChangeUnknown ChangeType = "unknown"
)

// WebhookRegistration couples one external subscription to all tasks fanned
// out from it. Keyed by the source identifier of the watched resource.
type WebhookRegistration struct {
	SourceIdentifier  string    `gorm:"primaryKey" json:"source_identifier"`
	EndpointID        string    `json:"endpoint_id"`
	Secret            string    `json:"secret"`
	ExternalWebhookID string    `json:"external_webhook_id"`
	RegisteredTasks   StringSet `gorm:"type:json" json:"registered_tasks"`
	StartPageToken    string    `json:"start_page_token,omitempty"`
	NextPageToken     string    `json:"next_page_token,omitempty"`
	CrawlerTokens     JSON      `gorm:"type:json" json:"crawler_tokens,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Clone returns a copy safe to mutate without aliasing store state
func (w *WebhookRegistration) Clone() *WebhookRegistration {
	cp := *w
	if w.RegisteredTasks != nil {
		cp.RegisteredTasks = w.RegisteredTasks.Clone()
	}
	cp.CrawlerTokens = w.CrawlerTokens.Clone()
	return &cp
}

// SourceIdentifier derives the string naming the external resource behind a
// source config. Returns "" for unknown plugin types or a missing config key.
func SourceIdentifier(pluginType string, config JSON) string {
	switch pluginType {
	case PluginGitCrawler:
		return config.GetString("repoUrl")
	case PluginDriveCrawler:
		return config.GetString("folderId")
	case PluginHTTPCrawler:
		if url := config.GetString("url"); url != "" {
			return url
		}
		return config.GetString("startUrl")
	default:
		return ""
	}
}
