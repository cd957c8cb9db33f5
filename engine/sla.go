package engine

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// IsBreached reports whether the issue has blown its SLA deadline while
// still open. Pure and stateless: evaluated on every read, never persisted.
func IsBreached(issue *models.Issue, now time.Time) bool {
	if issue.SlaDeadline == nil {
		return false
	}
	if issue.Status == models.StatusResolved || issue.Status == models.StatusClosed {
		return false
	}
	return now.After(*issue.SlaDeadline)
}

// Escalator flags SLA-breached issues. Escalation is monotonic: once set,
// autoEscalated never clears automatically.
type Escalator struct {
	DB     databases.DatabaseHelper
	Issues databases.IssueDatabase
	Audits databases.AuditLogDatabase
}

// NewEscalator wires the escalator to its stores.
func NewEscalator(db databases.DatabaseHelper, issues databases.IssueDatabase, audits databases.AuditLogDatabase) *Escalator {
	return &Escalator{DB: db, Issues: issues, Audits: audits}
}

// Escalate marks a breached issue. The guarded filter makes the flag
// first-write-wins against a concurrent sweep or on-demand check: only one
// writer observes autoEscalated=false.
func (e *Escalator) Escalate(ctx context.Context, issue *models.Issue, reason, actor string) error {
	if !IsBreached(issue, time.Now()) {
		return &ValidationError{Field: "slaDeadline", Reason: "issue is not breached"}
	}

	now := time.Now()
	audit := models.AuditLogEntry{
		EntityType:  "issue",
		EntityID:    issue.IssueID,
		Action:      models.AuditActionAutoEscalation,
		OldValues:   map[string]interface{}{"autoEscalated": false},
		NewValues:   map[string]interface{}{"autoEscalated": true, "escalationReason": reason},
		ActorUserID: actor,
		Timestamp:   now,
	}

	alreadyEscalated := false
	err := databases.WithTransaction(ctx, e.DB, func(txCtx context.Context) error {
		res, err := e.Issues.UpdateOne(txCtx,
			bson.M{"issueId": issue.IssueID, "autoEscalated": false},
			bson.M{"$set": bson.M{
				"autoEscalated":    true,
				"escalationReason": reason,
				"updatedAt":        now,
			}},
		)
		if err != nil {
			return fmt.Errorf("escalation write: %w", err)
		}
		if res.MatchedCount == 0 {
			// Already escalated; nothing to record twice.
			alreadyEscalated = true
			return nil
		}
		if _, err := e.Audits.InsertOne(txCtx, audit); err != nil {
			return fmt.Errorf("escalation audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if alreadyEscalated {
		return nil
	}

	zap.S().Infow("issue auto-escalated",
		"issueId", issue.IssueID,
		"reason", reason,
	)
	return nil
}

// FindBreached returns open, assigned, not-yet-escalated issues whose
// deadline is in the past. Used by the periodic sweep.
func (e *Escalator) FindBreached(ctx context.Context, now time.Time) ([]models.Issue, error) {
	filter := bson.M{
		"slaDeadline":   bson.M{"$lt": now},
		"autoEscalated": false,
		"status": bson.M{"$nin": []models.IssueStatus{
			models.StatusResolved, models.StatusClosed, models.StatusRejected,
		}},
	}
	return e.Issues.Find(ctx, filter)
}
