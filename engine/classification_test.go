package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/civic-issues-api/models"
)

func TestDecideClassification(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		citizen       models.IssueCategory
		result        ClassifierResult
		classifierErr error
		want          ClassificationDecision
	}{
		{
			name:    "high confidence same category verifies",
			citizen: models.CategoryPothole,
			result:  ClassifierResult{Category: models.CategoryPothole, Confidence: 0.95},
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryPothole,
				ConfidenceScore:  0.95,
			},
		},
		{
			name:    "high confidence differing category reclassifies",
			citizen: models.CategoryGarbage,
			result:  ClassifierResult{Category: models.CategorySewage, Confidence: 0.95},
			want: ClassificationDecision{
				VerifiedCategory: models.CategorySewage,
				ConfidenceScore:  0.95,
				WasReclassified:  true,
				Event: &models.ReclassificationEvent{
					From:       models.CategoryGarbage,
					To:         models.CategorySewage,
					Confidence: 0.95,
					Timestamp:  now,
				},
			},
		},
		{
			name:    "confidence just below threshold keeps citizen category",
			citizen: models.CategoryGarbage,
			result:  ClassifierResult{Category: models.CategorySewage, Confidence: 0.59},
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryGarbage,
				ConfidenceScore:  0.59,
				NeedsReview:      true,
			},
		},
		{
			name:    "confidence exactly at threshold trusts the classifier",
			citizen: models.CategoryGarbage,
			result:  ClassifierResult{Category: models.CategorySewage, Confidence: 0.6},
			want: ClassificationDecision{
				VerifiedCategory: models.CategorySewage,
				ConfidenceScore:  0.6,
				WasReclassified:  true,
				Event: &models.ReclassificationEvent{
					From:       models.CategoryGarbage,
					To:         models.CategorySewage,
					Confidence: 0.6,
					Timestamp:  now,
				},
			},
		},
		{
			name:    "unknown category flags review",
			citizen: models.CategoryPothole,
			result:  ClassifierResult{Category: "lava_flow", Confidence: 0.99},
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryPothole,
				ConfidenceScore:  0.99,
				NeedsReview:      true,
			},
		},
		{
			name:          "classifier error degrades to citizen category",
			citizen:       models.CategoryWater,
			classifierErr: errors.New("vision service timeout"),
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryWater,
				NeedsReview:      true,
				ClassifierError:  "vision service timeout",
			},
		},
		{
			name:    "confidence above one is clamped",
			citizen: models.CategoryPothole,
			result:  ClassifierResult{Category: models.CategoryPothole, Confidence: 1.5},
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryPothole,
				ConfidenceScore:  1,
			},
		},
		{
			name:    "negative confidence is clamped to zero and reviewed",
			citizen: models.CategoryPothole,
			result:  ClassifierResult{Category: models.CategoryPothole, Confidence: -0.2},
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryPothole,
				ConfidenceScore:  0,
				NeedsReview:      true,
			},
		},
		{
			name:    "NaN confidence is treated as missing",
			citizen: models.CategoryPothole,
			result:  ClassifierResult{Category: models.CategoryStreetlight, Confidence: math.NaN()},
			want: ClassificationDecision{
				VerifiedCategory: models.CategoryPothole,
				ConfidenceScore:  0,
				NeedsReview:      true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideClassification(tt.citizen, tt.result, tt.classifierErr, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyClassification_FirstEventWins(t *testing.T) {
	now := time.Now()
	issue := &models.Issue{Category: models.CategoryGarbage}

	first := DecideClassification(models.CategoryGarbage, ClassifierResult{Category: models.CategorySewage, Confidence: 0.9}, nil, now)
	ApplyClassification(issue, first)

	require.NotNil(t, issue.ReclassificationEvent)
	assert.True(t, issue.WasReclassified)
	assert.Equal(t, models.CategorySewage, issue.ReclassificationEvent.To)

	// A second reclassification must not overwrite the recorded event.
	later := now.Add(time.Hour)
	second := DecideClassification(models.CategoryGarbage, ClassifierResult{Category: models.CategoryWater, Confidence: 0.99}, nil, later)
	ApplyClassification(issue, second)

	assert.Equal(t, models.CategoryWater, issue.VerifiedCategory)
	assert.Equal(t, models.CategorySewage, issue.ReclassificationEvent.To)
	assert.Equal(t, now, issue.ReclassificationEvent.Timestamp)
}

func TestApplyClassification_ReviewFlagIsSticky(t *testing.T) {
	issue := &models.Issue{Category: models.CategoryOther, NeedsReview: true}

	d := DecideClassification(models.CategoryOther, ClassifierResult{Category: models.CategoryOther, Confidence: 0.9}, nil, time.Now())
	ApplyClassification(issue, d)

	assert.True(t, issue.NeedsReview)
}
