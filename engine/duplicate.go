package engine

import (
	"context"
	"time"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// DuplicateParams bound the candidate search. Window is required: callers
// choose it explicitly, there is no implicit default.
type DuplicateParams struct {
	RadiusMeters float64
	Window       time.Duration
}

// DuplicateResult names the canonical prior issue, if any, plus every
// candidate that matched.
type DuplicateResult struct {
	IsDuplicate    bool
	CanonicalIssue string
	Candidates     []models.Issue
}

// DuplicateDetector finds plausible prior reports of the same physical
// problem: same verified category, still open, recent enough, close enough.
type DuplicateDetector struct {
	Issues  databases.IssueDatabase
	Timeout time.Duration
}

// NewDuplicateDetector returns a detector with the given query timeout.
func NewDuplicateDetector(issues databases.IssueDatabase, timeout time.Duration) *DuplicateDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuplicateDetector{Issues: issues, Timeout: timeout}
}

// Detect returns the duplicate verdict for a fresh submission. When several
// candidates match, the most recently created one is canonical. Errors are
// the caller's to degrade on; detection is best-effort by contract.
func (d *DuplicateDetector) Detect(ctx context.Context, category models.IssueCategory, loc models.Location, createdAt time.Time, p DuplicateParams) (DuplicateResult, error) {
	if p.Window <= 0 {
		return DuplicateResult{}, &ValidationError{Field: "window", Reason: "duplicate search window must be positive"}
	}
	if p.RadiusMeters <= 0 {
		return DuplicateResult{}, &ValidationError{Field: "radiusMeters", Reason: "duplicate search radius must be positive"}
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	since := createdAt.Add(-p.Window)
	candidates, err := d.Issues.FindDuplicateCandidates(ctx, category, since)
	if err != nil {
		return DuplicateResult{}, err
	}

	// Candidates arrive newest first; the first within radius wins the
	// tie-break (recency, not geographic closeness).
	var matched []models.Issue
	for _, candidate := range candidates {
		if HaversineMeters(loc.Lat, loc.Lng, candidate.Location.Lat, candidate.Location.Lng) <= p.RadiusMeters {
			matched = append(matched, candidate)
		}
	}

	if len(matched) == 0 {
		return DuplicateResult{}, nil
	}

	return DuplicateResult{
		IsDuplicate:    true,
		CanonicalIssue: matched[0].IssueID,
		Candidates:     matched,
	}, nil
}
