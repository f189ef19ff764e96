package models

import "time"

// AuditLog is one security-relevant event: a connection created or removed,
// a mapping changed, or a credential revealed. Rows are append-only and
// never contain secret material.
type AuditLog struct {
	ID           string                 `db:"id" json:"id"`
	UserID       *string                `db:"user_id" json:"user_id,omitempty"` // nullable for system actions
	Action       string                 `db:"action" json:"action"`             // "credentials.connected", "credentials.revealed", ...
	ResourceType *string                `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   *string                `db:"resource_id" json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `db:"metadata" json:"metadata,omitempty"` // JSONB: additional context
	IPAddress    *string                `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}
