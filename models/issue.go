package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IssueCategory is the fixed category enumeration shared by classification,
// routing and duplicate matching. Citizen-picked and engine-verified
// categories are both drawn from this set.
type IssueCategory string

// All well-known issue categories.
const (
	CategoryPothole     IssueCategory = "pothole"
	CategoryStreetlight IssueCategory = "streetlight"
	CategoryWater       IssueCategory = "water"
	CategorySewage      IssueCategory = "sewage"
	CategoryGarbage     IssueCategory = "garbage"
	CategoryElectricity IssueCategory = "electricity"
	CategoryOther       IssueCategory = "other"
)

// Categories lists every valid category, in display order.
var Categories = []IssueCategory{
	CategoryPothole,
	CategoryStreetlight,
	CategoryWater,
	CategorySewage,
	CategoryGarbage,
	CategoryElectricity,
	CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c IssueCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IssueStatus is the canonical lifecycle status of an issue.
type IssueStatus string

// Lifecycle states. Closed and rejected are terminal; resolved may only
// move forward to closed.
const (
	StatusSubmitted  IssueStatus = "submitted"
	StatusAssigned   IssueStatus = "assigned"
	StatusInProgress IssueStatus = "in_progress"
	StatusResolved   IssueStatus = "resolved"
	StatusClosed     IssueStatus = "closed"
	StatusRejected   IssueStatus = "rejected"
)

// Terminal reports whether s permits no further transitions.
func (s IssueStatus) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// IssuePriority as assigned by routing or by an authority.
type IssuePriority string

// Priority levels, lowest to highest.
const (
	PriorityLow      IssuePriority = "low"
	PriorityMedium   IssuePriority = "medium"
	PriorityHigh     IssuePriority = "high"
	PriorityCritical IssuePriority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p IssuePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Location is the point the citizen reported the problem at. Required at
// submission and immutable afterwards.
type Location struct {
	Lat     float64 `json:"lat" bson:"lat"`
	Lng     float64 `json:"lng" bson:"lng"`
	Address string  `json:"address" bson:"address"`
}

// StatusHistoryEntry is one hop of the issue lifecycle. The history is
// append-only; the issue's status always equals the ToStatus of the last
// entry.
type StatusHistoryEntry struct {
	FromStatus IssueStatus `json:"fromStatus" bson:"fromStatus"`
	ToStatus   IssueStatus `json:"toStatus" bson:"toStatus"`
	Timestamp  time.Time   `json:"timestamp" bson:"timestamp"`
	Actor      string      `json:"actor" bson:"actor"`
	Notes      string      `json:"notes,omitempty" bson:"notes,omitempty"`
}

// RoutingLogEntry records one (re)routing decision. One entry is appended
// per routing event, never rewritten.
type RoutingLogEntry struct {
	Method       string    `json:"method" bson:"method"` // "auto" or "manual"
	RuleID       string    `json:"ruleId" bson:"ruleId"`
	DepartmentID string    `json:"departmentId" bson:"departmentId"`
	SlaHours     int       `json:"slaHours" bson:"slaHours"`
	SlaReset     bool      `json:"slaReset" bson:"slaReset"`
	Actor        string    `json:"actor,omitempty" bson:"actor,omitempty"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// ReclassificationEvent is written once, the first time the classifier
// overrides the citizen's category with sufficient confidence.
type ReclassificationEvent struct {
	From       IssueCategory `json:"from" bson:"from"`
	To         IssueCategory `json:"to" bson:"to"`
	Confidence float64       `json:"confidence" bson:"confidence"`
	Timestamp  time.Time     `json:"timestamp" bson:"timestamp"`
}

// Issue is the central entity: a citizen-submitted civic complaint.
type Issue struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	IssueID string             `json:"issueId" bson:"issueId"`

	Title       string        `json:"title" bson:"title"`
	Description string        `json:"description" bson:"description"`
	Category    IssueCategory `json:"category" bson:"category"`
	Location    Location      `json:"location" bson:"location"`
	Images      []string      `json:"images" bson:"images"`
	WardArea    string        `json:"wardArea" bson:"wardArea"`
	ReportedBy  string        `json:"reportedBy" bson:"reportedBy"`

	// Classification outcome.
	VerifiedCategory      IssueCategory          `json:"verifiedCategory,omitempty" bson:"verifiedCategory,omitempty"`
	ConfidenceScore       float64                `json:"confidenceScore" bson:"confidenceScore"`
	NeedsReview           bool                   `json:"needsReview" bson:"needsReview"`
	WasReclassified       bool                   `json:"wasReclassified" bson:"wasReclassified"`
	ReclassificationEvent *ReclassificationEvent `json:"reclassificationEvent,omitempty" bson:"reclassificationEvent,omitempty"`
	ClassifierError       string                 `json:"classifierError,omitempty" bson:"classifierError,omitempty"`

	Status        IssueStatus          `json:"status" bson:"status"`
	StatusHistory []StatusHistoryEntry `json:"statusHistory" bson:"statusHistory"`

	AssignedDepartmentID string            `json:"assignedDepartmentId,omitempty" bson:"assignedDepartmentId,omitempty"`
	AssignedUserID       string            `json:"assignedUserId,omitempty" bson:"assignedUserId,omitempty"`
	RoutingLogs          []RoutingLogEntry `json:"routingLogs" bson:"routingLogs"`

	SlaDeadline      *time.Time `json:"slaDeadline,omitempty" bson:"slaDeadline,omitempty"`
	AutoEscalated    bool       `json:"autoEscalated" bson:"autoEscalated"`
	EscalationReason string     `json:"escalationReason,omitempty" bson:"escalationReason,omitempty"`

	IsDuplicate        bool   `json:"isDuplicate" bson:"isDuplicate"`
	DuplicateOfIssueID string `json:"duplicateOfIssueId,omitempty" bson:"duplicateOfIssueId,omitempty"`

	Priority      IssuePriority `json:"priority" bson:"priority"`
	SeverityLevel int           `json:"severityLevel" bson:"severityLevel"`

	ResolutionNotes  string     `json:"resolutionNotes,omitempty" bson:"resolutionNotes,omitempty"`
	ResolutionImages []string   `json:"resolutionImages,omitempty" bson:"resolutionImages,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ResolvedByUserID string     `json:"resolvedByUserId,omitempty" bson:"resolvedByUserId,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// IssueWithSLA wraps an Issue with the derived breach flag computed at read
// time. The flag is never persisted; escalation writes go through the audit
// path instead.
type IssueWithSLA struct {
	Issue
	SlaBreached bool `json:"slaBreached"`
}
