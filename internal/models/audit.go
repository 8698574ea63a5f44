package models

// ActionOpenBarrier is the action recorded for every accepted trigger.
const ActionOpenBarrier = "Abrir Barrera"

// AuditRecord is a write-once history entry.
type AuditRecord struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	UserEmail       string `json:"userEmail"`
	Action          string `json:"action"`
	TimestampMillis int64  `json:"timestamp"`
}
