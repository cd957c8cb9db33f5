package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/models"
)

// ReviewThreshold is the classifier confidence below which an issue keeps
// the citizen's category and is flagged for manual review.
const ReviewThreshold = 0.6

// ClassifierResult is the scored-category output of the external vision
// classifier. The classifier is untrusted and possibly absent.
type ClassifierResult struct {
	Category    models.IssueCategory
	Confidence  float64
	Explanation string
}

// Classifier is the external AI vision oracle consumed by the
// classification policy.
type Classifier interface {
	Classify(ctx context.Context, imageURLs []string, citizenCategory models.IssueCategory) (ClassifierResult, error)
}

// ClassificationDecision is the policy outcome for one submission.
type ClassificationDecision struct {
	VerifiedCategory models.IssueCategory
	ConfidenceScore  float64
	NeedsReview      bool
	WasReclassified  bool
	Event            *models.ReclassificationEvent
	ClassifierError  string
}

// DecideClassification applies the classification policy to the classifier
// output. Classification failure never blocks submission: on error the
// citizen's category stands and the issue is flagged for review.
func DecideClassification(citizen models.IssueCategory, result ClassifierResult, classifierErr error, now time.Time) ClassificationDecision {
	if classifierErr != nil {
		zap.S().Warnw("classifier unavailable, keeping citizen category",
			"category", citizen,
			"error", classifierErr,
		)
		return ClassificationDecision{
			VerifiedCategory: citizen,
			NeedsReview:      true,
			ClassifierError:  classifierErr.Error(),
		}
	}

	confidence := clampConfidence(result.Confidence)

	// A category outside the shared enumeration is as good as no answer.
	if !result.Category.Valid() {
		return ClassificationDecision{
			VerifiedCategory: citizen,
			ConfidenceScore:  confidence,
			NeedsReview:      true,
		}
	}

	if confidence < ReviewThreshold {
		// Do not silently override with a low-confidence suggestion.
		return ClassificationDecision{
			VerifiedCategory: citizen,
			ConfidenceScore:  confidence,
			NeedsReview:      true,
		}
	}

	if result.Category != citizen {
		return ClassificationDecision{
			VerifiedCategory: result.Category,
			ConfidenceScore:  confidence,
			WasReclassified:  true,
			Event: &models.ReclassificationEvent{
				From:       citizen,
				To:         result.Category,
				Confidence: confidence,
				Timestamp:  now,
			},
		}
	}

	return ClassificationDecision{
		VerifiedCategory: citizen,
		ConfidenceScore:  confidence,
	}
}

// ApplyClassification writes a decision onto the issue. The
// reclassification event is first-write-wins: once recorded it is never
// overwritten, even if classification runs again.
func ApplyClassification(issue *models.Issue, d ClassificationDecision) {
	issue.VerifiedCategory = d.VerifiedCategory
	issue.ConfidenceScore = d.ConfidenceScore
	issue.NeedsReview = issue.NeedsReview || d.NeedsReview
	issue.ClassifierError = d.ClassifierError

	if d.WasReclassified && issue.ReclassificationEvent == nil {
		issue.WasReclassified = true
		issue.ReclassificationEvent = d.Event
	}
}

// clampConfidence forces the score into [0,1]; missing (NaN treated as
// missing) becomes 0.
func clampConfidence(c float64) float64 {
	if c != c { // NaN
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
