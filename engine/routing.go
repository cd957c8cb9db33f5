package engine

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// RoutingRule maps a category (optionally narrowed to a ward) to a
// department, priority and SLA. Rules are configuration, loaded once at
// startup, evaluated in order with first match winning. Ward-specific rules
// are checked before category-only rules regardless of table order.
type RoutingRule struct {
	ID             string               `json:"id"`
	Category       models.IssueCategory `json:"category"`
	Ward           string               `json:"ward,omitempty"` // empty matches any ward
	DepartmentCode string               `json:"departmentCode"`
	Priority       models.IssuePriority `json:"priority"`
	SlaHours       int                  `json:"slaHours,omitempty"` // 0 defers to the department's SLA
}

// RoutingDecision is the routing engine's answer for one issue.
type RoutingDecision struct {
	RuleID         string
	DepartmentID   string
	DepartmentCode string
	Priority       models.IssuePriority
	SlaHours       int
	SlaDeadline    time.Time
}

// DefaultRoutingRules is the compiled-in rule table used when no
// ROUTING_RULES_PATH is configured. The trailing catch-all is the fallback
// required by the submission contract: routing never fails a submission.
func DefaultRoutingRules() []RoutingRule {
	return []RoutingRule{
		{ID: "pothole-roads", Category: models.CategoryPothole, DepartmentCode: "ROADS", Priority: models.PriorityHigh},
		{ID: "streetlight-electrical", Category: models.CategoryStreetlight, DepartmentCode: "ELEC", Priority: models.PriorityMedium},
		{ID: "water-waterworks", Category: models.CategoryWater, DepartmentCode: "WATER", Priority: models.PriorityHigh},
		{ID: "sewage-waterworks", Category: models.CategorySewage, DepartmentCode: "WATER", Priority: models.PriorityCritical},
		{ID: "garbage-sanitation", Category: models.CategoryGarbage, DepartmentCode: "SAN", Priority: models.PriorityMedium},
		{ID: "electricity-electrical", Category: models.CategoryElectricity, DepartmentCode: "ELEC", Priority: models.PriorityHigh},
		{ID: "default", Category: "", DepartmentCode: "GEN", Priority: models.PriorityLow},
	}
}

// LoadRoutingRules reads the rule table from a JSON file.
func LoadRoutingRules(path string) ([]RoutingRule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []RoutingRule
	if err := json.Unmarshal(b, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Router assigns issues to departments per the rule table.
type Router struct {
	Departments databases.DepartmentDatabase
	rules       []RoutingRule
}

// NewRouter builds a router over the given ordered rule table. An empty
// table falls back to the compiled-in defaults, and a table without an
// empty-category catch-all gets the compiled-in one appended so unmapped
// categories always land on the default department.
func NewRouter(departments databases.DepartmentDatabase, rules []RoutingRule) *Router {
	if len(rules) == 0 {
		rules = DefaultRoutingRules()
	}
	hasCatchAll := false
	for _, rule := range rules {
		if rule.Category == "" {
			hasCatchAll = true
			break
		}
	}
	if !hasCatchAll {
		defaults := DefaultRoutingRules()
		zap.S().Warnw("routing table has no catch-all rule, appending the default",
			"rules", len(rules),
		)
		rules = append(rules, defaults[len(defaults)-1])
	}
	return &Router{Departments: departments, rules: rules}
}

// match returns the first applicable rule: ward-specific rules first, then
// category-only rules, then the empty-category catch-all.
func (r *Router) match(category models.IssueCategory, ward string) (RoutingRule, error) {
	for _, rule := range r.rules {
		if rule.Category == category && rule.Ward != "" && strings.EqualFold(rule.Ward, ward) {
			return rule, nil
		}
	}
	for _, rule := range r.rules {
		if rule.Category == category && rule.Ward == "" {
			return rule, nil
		}
	}
	for _, rule := range r.rules {
		if rule.Category == "" {
			return rule, nil
		}
	}
	return RoutingRule{}, ErrRoutingRuleMissing
}

// Route resolves the department for (category, ward) and computes the SLA
// deadline from the assignment time. A missing rule or an unknown
// department degrades to the catch-all rule rather than failing the
// submission.
func (r *Router) Route(ctx context.Context, category models.IssueCategory, ward string, assignedAt time.Time) (RoutingDecision, error) {
	rule, err := r.match(category, ward)
	if err != nil {
		zap.S().Warnw("no routing rule matched, using catch-all",
			"category", category,
			"ward", ward,
		)
		defaults := DefaultRoutingRules()
		rule = defaults[len(defaults)-1]
	}

	dept, err := r.Departments.FindOne(ctx, bson.M{"code": rule.DepartmentCode, "isActive": true})
	if err != nil {
		return RoutingDecision{}, err
	}

	slaHours := rule.SlaHours
	if slaHours == 0 {
		slaHours = dept.SlaHours
	}

	return RoutingDecision{
		RuleID:         rule.ID,
		DepartmentID:   dept.ID.Hex(),
		DepartmentCode: dept.Code,
		Priority:       rule.Priority,
		SlaHours:       slaHours,
		SlaDeadline:    assignedAt.Add(time.Duration(slaHours) * time.Hour),
	}, nil
}
