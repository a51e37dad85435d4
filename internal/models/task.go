package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TriggerType selects how a task fires
type TriggerType string

const (
	TriggerTypeManual  TriggerType = "manual"
	TriggerTypeCron    TriggerType = "cron"
	TriggerTypeWebhook TriggerType = "webhook"
)

// Trigger is a tagged variant: switch on Type, never on field presence
type Trigger struct {
	Type TriggerType `json:"type"`

	// Cron
	Expression string `json:"expression,omitempty"`

	// Webhook
	EndpointID        string `json:"endpoint_id,omitempty"`
	CallbackURL       string `json:"callback_url,omitempty"`
	Credentials       JSON   `json:"credentials,omitempty"`
	ExternalWebhookID string `json:"external_webhook_id,omitempty"`
	Secret            string `json:"secret,omitempty"`
}

func (t Trigger) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *Trigger) Scan(value interface{}) error {
	if value == nil {
		*t = Trigger{}
		return nil
	}
	return json.Unmarshal(asBytes(value), t)
}

// PluginSpec names a registered plugin plus its per-task configuration
type PluginSpec struct {
	PluginType string `json:"plugin_type"`
	Config     JSON   `json:"config,omitempty"`
}

func (p PluginSpec) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PluginSpec) Scan(value interface{}) error {
	if value == nil {
		*p = PluginSpec{}
		return nil
	}
	return json.Unmarshal(asBytes(value), p)
}

// RunStatus captures the outcome of a single pipeline run
type RunStatus struct {
	Success        bool      `json:"success"`
	Code           int       `json:"code"`
	Message        string    `json:"message,omitempty"`
	ItemsProcessed int       `json:"items_processed"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

func (r RunStatus) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RunStatus) Scan(value interface{}) error {
	if value == nil {
		*r = RunStatus{}
		return nil
	}
	return json.Unmarshal(asBytes(value), r)
}

// Task represents one ingestion job definition plus its live status
type Task struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	Name          string      `json:"name"`
	Enabled       bool        `gorm:"default:true" json:"enabled"`
	Source        PluginSpec  `gorm:"type:json" json:"source"`
	Destination   *PluginSpec `gorm:"type:json" json:"destination,omitempty"`
	Trigger       Trigger     `gorm:"type:json" json:"trigger"`
	CurrentStatus TaskStatus  `gorm:"default:'scheduled'" json:"current_status"`
	LastRun       *time.Time  `json:"last_run,omitempty"`
	LastRunStatus *RunStatus  `gorm:"type:json" json:"last_run_status,omitempty"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsWebhook reports whether the task fires on inbound webhooks
func (t *Task) IsWebhook() bool {
	return t.Trigger.Type == TriggerTypeWebhook
}

// SourceIdentifier derives the external-resource key for the task's source
func (t *Task) SourceIdentifier() string {
	return SourceIdentifier(t.Source.PluginType, t.Source.Config)
}

// Clone returns a deep-enough copy for safe hand-off between goroutines
func (t *Task) Clone() *Task {
	cp := *t
	cp.Source.Config = t.Source.Config.Clone()
	if t.Destination != nil {
		d := *t.Destination
		d.Config = t.Destination.Config.Clone()
		cp.Destination = &d
	}
	cp.Trigger.Credentials = t.Trigger.Credentials.Clone()
	if t.LastRun != nil {
		lr := *t.LastRun
		cp.LastRun = &lr
	}
	if t.LastRunStatus != nil {
		st := *t.LastRunStatus
		cp.LastRunStatus = &st
	}
	return &cp
}
