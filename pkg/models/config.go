package models

// IntegrationConfig controls what is synced and how.
type IntegrationConfig struct {
	// SyncInterval is the desired seconds between syncs.
	SyncInterval  *int           `json:"sync_interval" validate:"required"`
	FieldMappings []FieldMapping `json:"field_mappings" validate:"required,dive"`
	WebhookURL    string         `json:"webhook_url,omitempty" validate:"omitempty,url"`
	WebhookSecret string         `json:"webhook_secret,omitempty" validate:"required_with=WebhookURL"`
	Settings      map[string]any `json:"settings,omitempty"`
	RetryPolicy   *RetryPolicy   `json:"retry_policy,omitempty" validate:"omitempty"`
}

// FieldMapping maps a local field onto a provider field.
type FieldMapping struct {
	SourceField     string         `json:"source_field" validate:"required"`
	TargetField     string         `json:"target_field" validate:"required"`
	Transform       string         `json:"transform,omitempty"`
	Required        bool           `json:"required"`
	ValidationRules map[string]any `json:"validation_rules,omitempty"`
}

type RetryPolicy struct {
	MaxAttempts       *int `json:"max_attempts" validate:"required,gte=0"`
	BackoffIntervalMs *int `json:"backoff_interval_ms" validate:"required,gte=0"`
	TimeoutMs         *int `json:"timeout_ms" validate:"required,gte=0"`
}
