package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// Draft is a citizen submission before it becomes an Issue.
type Draft struct {
	Title       string
	Description string
	Category    models.IssueCategory
	Location    models.Location
	Images      []string
	WardArea    string
	ReportedBy  string
}

// Pipeline runs the one-shot creation flow: validate, classify, detect
// duplicates, route, seed the state machine, persist. Classifier and
// duplicate failures degrade; only validation or persistence failures
// surface to the citizen.
type Pipeline struct {
	DB         databases.DatabaseHelper
	Issues     databases.IssueDatabase
	Audits     databases.AuditLogDatabase
	Classifier Classifier
	Detector   *DuplicateDetector
	Router     *Router

	// Duplicate search bounds applied to submissions.
	DuplicateParams DuplicateParams
}

// maxClassifyWait bounds the classifier call when the caller carries no
// deadline of its own.
const maxClassifyWait = 20 * time.Second

// classifyContext budgets the classifier call at half the caller's
// remaining deadline, detached from the caller's cancellation, so a
// stalled vision service leaves live context for routing and persistence.
func classifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	wait := maxClassifyWait
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline) / 2; remaining < wait {
			wait = remaining
		}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), wait)
}

func validateDraft(d Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if !d.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", d.Category)}
	}
	// Duplicate detection needs real coordinates; (0,0) is treated as absent.
	if d.Location.Lat == 0 && d.Location.Lng == 0 {
		return &ValidationError{Field: "location", Reason: "coordinates are required"}
	}
	if len(d.Images) == 0 {
		return &ValidationError{Field: "images", Reason: "at least one image is required"}
	}
	return nil
}

// newIssueID builds the human-readable unique issue identifier.
func newIssueID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("CIV-%s-%s", now.Format("20060102"), suffix)
}

// Submit creates an issue. It either completes fully or fails with nothing
// persisted; there is no partially created issue.
func (p *Pipeline) Submit(ctx context.Context, draft Draft) (*models.Issue, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now()
	issue := &models.Issue{
		ID:          primitive.NewObjectID(),
		IssueID:     newIssueID(now),
		Title:       draft.Title,
		Description: draft.Description,
		Category:    draft.Category,
		Location:    draft.Location,
		Images:      draft.Images,
		WardArea:    draft.WardArea,
		ReportedBy:  draft.ReportedBy,
		Status:      models.StatusSubmitted,
		StatusHistory: []models.StatusHistoryEntry{{
			FromStatus: "",
			ToStatus:   models.StatusSubmitted,
			Timestamp:  now,
			Actor:      draft.ReportedBy,
			Notes:      "issue submitted",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Classification. Failure flags the issue for review and moves on.
	var result ClassifierResult
	classifyErr := errClassifierUnconfigured
	if p.Classifier != nil {
		classifyCtx, cancelClassify := classifyContext(ctx)
		result, classifyErr = p.Classifier.Classify(classifyCtx, draft.Images, draft.Category)
		cancelClassify()
	}
	decision := DecideClassification(draft.Category, result, classifyErr, now)
	ApplyClassification(issue, decision)

	// Duplicate detection. Best-effort: a failed search means not-a-duplicate.
	dup, err := p.Detector.Detect(ctx, issue.VerifiedCategory, issue.Location, now, p.DuplicateParams)
	if err != nil {
		zap.S().Warnw("duplicate detection failed, proceeding as non-duplicate",
			"issueId", issue.IssueID,
			"error", err,
		)
	} else if dup.IsDuplicate {
		issue.IsDuplicate = true
		issue.DuplicateOfIssueID = dup.CanonicalIssue
	}

	// Routing. The router falls back internally on a missing rule; a store
	// failure here is a real persistence-path failure and aborts the
	// submission before anything is written.
	routing, err := p.Router.Route(ctx, issue.VerifiedCategory, issue.WardArea, now)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	issue.AssignedDepartmentID = routing.DepartmentID
	issue.Priority = routing.Priority
	issue.SlaDeadline = &routing.SlaDeadline
	issue.RoutingLogs = []models.RoutingLogEntry{{
		Method:       "auto",
		RuleID:       routing.RuleID,
		DepartmentID: routing.DepartmentID,
		SlaHours:     routing.SlaHours,
		Timestamp:    now,
	}}

	audit := models.AuditLogEntry{
		EntityType: "issue",
		EntityID:   issue.IssueID,
		Action:     models.AuditActionIssueCreate,
		NewValues: map[string]interface{}{
			"category":         issue.Category,
			"verifiedCategory": issue.VerifiedCategory,
			"status":           issue.Status,
			"department":       routing.DepartmentCode,
			"isDuplicate":      issue.IsDuplicate,
		},
		ActorUserID: draft.ReportedBy,
		Timestamp:   now,
	}

	err = databases.WithTransaction(ctx, p.DB, func(txCtx context.Context) error {
		if _, err := p.Issues.InsertOne(txCtx, issue); err != nil {
			return fmt.Errorf("issue insert: %w", err)
		}
		if _, err := p.Audits.InsertOne(txCtx, audit); err != nil {
			return fmt.Errorf("issue create audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.S().Infow("issue created",
		"issueId", issue.IssueID,
		"category", issue.Category,
		"verifiedCategory", issue.VerifiedCategory,
		"department", routing.DepartmentCode,
		"needsReview", issue.NeedsReview,
		"isDuplicate", issue.IsDuplicate,
	)
	return issue, nil
}
