package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxSyncErrors bounds the retained sync error history.
const MaxSyncErrors = 50

// Integration is one tenant's connection to one CRM provider.
type Integration struct {
	ID                   uuid.UUID         `json:"id"`
	TenantID             uuid.UUID         `json:"tenant_id"`
	ProviderType         ProviderType      `json:"provider_type"`
	Credentials          Credentials       `json:"-"`
	Config               IntegrationConfig `json:"config"`
	Status               Status            `json:"status"`
	LastSyncAt           *time.Time        `json:"last_sync_at"`
	SyncAttempts         int               `json:"sync_attempts"`
	SyncErrors           []SyncErrorEntry  `json:"sync_errors"`
	CredentialsUpdatedAt time.Time         `json:"credentials_updated_at"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	DeletedAt            *time.Time        `json:"deleted_at,omitempty"`
}

// SyncErrorEntry is one recorded sync failure.
type SyncErrorEntry struct {
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	Batch      *int      `json:"batch,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
}

// AppendSyncError returns a new history with entry appended, keeping at most
// MaxSyncErrors of the most recent entries.
func AppendSyncError(history []SyncErrorEntry, entry SyncErrorEntry) []SyncErrorEntry {
	out := make([]SyncErrorEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, entry)
	if len(out) > MaxSyncErrors {
		out = out[len(out)-MaxSyncErrors:]
	}
	return out
}
