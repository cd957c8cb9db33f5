package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Audit actions written by the engine.
const (
	AuditActionIssueCreate    = "issue_create"
	AuditActionTransition     = "status_transition"
	AuditActionPriorityUpdate = "priority_update"
	AuditActionReroute        = "reroute"
	AuditActionAutoEscalation = "auto_escalation"
)

// AuditLogEntry records a single mutating operation with before/after
// snapshots. Entries are inserted once and never updated or deleted.
type AuditLogEntry struct {
	ID          primitive.ObjectID     `json:"_id" bson:"_id,omitempty"`
	EntityType  string                 `json:"entityType" bson:"entityType"`
	EntityID    string                 `json:"entityId" bson:"entityId"`
	Action      string                 `json:"action" bson:"action"`
	OldValues   map[string]interface{} `json:"oldValues,omitempty" bson:"oldValues,omitempty"`
	NewValues   map[string]interface{} `json:"newValues,omitempty" bson:"newValues,omitempty"`
	ActorUserID string                 `json:"actorUserId" bson:"actorUserId"`
	Timestamp   time.Time              `json:"timestamp" bson:"timestamp"`
}
