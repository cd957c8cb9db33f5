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

// allowedTransitions is the full legal edge set of the issue lifecycle.
var allowedTransitions = map[models.IssueStatus][]models.IssueStatus{
	models.StatusSubmitted:  {models.StatusAssigned, models.StatusRejected},
	models.StatusAssigned:   {models.StatusInProgress, models.StatusRejected},
	models.StatusInProgress: {models.StatusResolved, models.StatusRejected},
	models.StatusResolved:   {models.StatusClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.IssueStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine owns the canonical status of every issue. All status changes
// go through Transition; priority and severity changes are side-channel
// mutations handled by UpdatePriority.
type StateMachine struct {
	DB     databases.DatabaseHelper
	Issues databases.IssueDatabase
	Audits databases.AuditLogDatabase
}

// NewStateMachine wires the state machine to its stores.
func NewStateMachine(db databases.DatabaseHelper, issues databases.IssueDatabase, audits databases.AuditLogDatabase) *StateMachine {
	return &StateMachine{DB: db, Issues: issues, Audits: audits}
}

// Transition advances issue to toStatus. Exactly one history entry and one
// audit entry are written with the status change; the guarded write makes
// concurrent conflicting transitions resolve to one winner and one
// ErrConflict. The passed issue is the caller's snapshot; its status is the
// expected current status.
func (sm *StateMachine) Transition(ctx context.Context, issue *models.Issue, toStatus models.IssueStatus, actor, notes string, resolutionImages []string) (*models.Issue, error) {
	from := issue.Status
	if !CanTransition(from, toStatus) {
		return nil, &IllegalTransitionError{From: from, To: toStatus}
	}

	now := time.Now()
	entry := models.StatusHistoryEntry{
		FromStatus: from,
		ToStatus:   toStatus,
		Timestamp:  now,
		Actor:      actor,
		Notes:      notes,
	}

	set := bson.M{}
	if toStatus == models.StatusResolved {
		// Resolution proof is enforced here, not in the UI.
		if len(resolutionImages) == 0 {
			return nil, &ValidationError{Field: "resolutionImages", Reason: "at least one resolution image is required to resolve an issue"}
		}
		set["resolutionImages"] = resolutionImages
		set["resolvedAt"] = now
		set["resolvedByUserId"] = actor
		if notes != "" {
			set["resolutionNotes"] = notes
		}
	}

	audit := models.AuditLogEntry{
		EntityType:  "issue",
		EntityID:    issue.IssueID,
		Action:      models.AuditActionTransition,
		OldValues:   map[string]interface{}{"status": from},
		NewValues:   map[string]interface{}{"status": toStatus, "notes": notes},
		ActorUserID: actor,
		Timestamp:   now,
	}

	err := databases.WithTransaction(ctx, sm.DB, func(txCtx context.Context) error {
		res, err := sm.Issues.TransitionStatus(txCtx, issue.IssueID, from, entry, set)
		if err != nil {
			return fmt.Errorf("transition write: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrConflict
		}
		if _, err := sm.Audits.InsertOne(txCtx, audit); err != nil {
			return fmt.Errorf("transition audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.S().Infow("issue transitioned",
		"issueId", issue.IssueID,
		"from", from,
		"to", toStatus,
		"actor", actor,
	)

	updated := *issue
	updated.Status = toStatus
	updated.StatusHistory = append(append([]models.StatusHistoryEntry{}, issue.StatusHistory...), entry)
	updated.UpdatedAt = now
	if toStatus == models.StatusResolved {
		updated.ResolutionImages = resolutionImages
		updated.ResolvedAt = &now
		updated.ResolvedByUserID = actor
		if notes != "" {
			updated.ResolutionNotes = notes
		}
	}
	return &updated, nil
}

// UpdatePriority is the side-channel priority/severity mutation. It does
// not touch the lifecycle; it is audited as priority_update.
func (sm *StateMachine) UpdatePriority(ctx context.Context, issue *models.Issue, priority models.IssuePriority, severity int, actor string) error {
	now := time.Now()

	audit := models.AuditLogEntry{
		EntityType:  "issue",
		EntityID:    issue.IssueID,
		Action:      models.AuditActionPriorityUpdate,
		OldValues:   map[string]interface{}{"priority": issue.Priority, "severityLevel": issue.SeverityLevel},
		NewValues:   map[string]interface{}{"priority": priority, "severityLevel": severity},
		ActorUserID: actor,
		Timestamp:   now,
	}

	return databases.WithTransaction(ctx, sm.DB, func(txCtx context.Context) error {
		res, err := sm.Issues.UpdateOne(txCtx, bson.M{"issueId": issue.IssueID}, bson.M{
			"$set": bson.M{
				"priority":      priority,
				"severityLevel": severity,
				"updatedAt":     now,
			},
		})
		if err != nil {
			return fmt.Errorf("priority update: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrConflict
		}
		if _, err := sm.Audits.InsertOne(txCtx, audit); err != nil {
			return fmt.Errorf("priority update audit: %w", err)
		}
		return nil
	})
}

// Reroute manually reassigns an issue to another department before a
// terminal state. The SLA deadline is preserved unless the actor explicitly
// asks for a reset, in which case it is recomputed from the new
// department's SLA hours.
func (sm *StateMachine) Reroute(ctx context.Context, issue *models.Issue, dept *models.Department, actor string, resetSla bool) error {
	if issue.Status.Terminal() {
		return &IllegalTransitionError{From: issue.Status, To: issue.Status}
	}

	now := time.Now()
	slaHours := dept.SlaHours

	set := bson.M{"assignedDepartmentId": dept.ID.Hex()}
	newValues := map[string]interface{}{"assignedDepartmentId": dept.ID.Hex()}
	if resetSla {
		deadline := now.Add(time.Duration(slaHours) * time.Hour)
		set["slaDeadline"] = deadline
		newValues["slaDeadline"] = deadline
	}

	entry := models.RoutingLogEntry{
		Method:       "manual",
		RuleID:       "manual-reroute",
		DepartmentID: dept.ID.Hex(),
		SlaHours:     slaHours,
		SlaReset:     resetSla,
		Actor:        actor,
		Timestamp:    now,
	}

	audit := models.AuditLogEntry{
		EntityType:  "issue",
		EntityID:    issue.IssueID,
		Action:      models.AuditActionReroute,
		OldValues:   map[string]interface{}{"assignedDepartmentId": issue.AssignedDepartmentID},
		NewValues:   newValues,
		ActorUserID: actor,
		Timestamp:   now,
	}

	return databases.WithTransaction(ctx, sm.DB, func(txCtx context.Context) error {
		res, err := sm.Issues.AppendRoutingLog(txCtx, issue.IssueID, entry, set)
		if err != nil {
			return fmt.Errorf("reroute write: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrConflict
		}
		if _, err := sm.Audits.InsertOne(txCtx, audit); err != nil {
			return fmt.Errorf("reroute audit: %w", err)
		}
		return nil
	})
}
