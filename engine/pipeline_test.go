package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/databases/mocks"
	"github.com/civicgrid/civic-issues-api/models"
)

type stubClassifier struct {
	result ClassifierResult
	err    error
}

func (s stubClassifier) Classify(ctx context.Context, imageURLs []string, citizenCategory models.IssueCategory) (ClassifierResult, error) {
	return s.result, s.err
}

func validDraft() Draft {
	return Draft{
		Title:      "Overflowing garbage bin",
		Category:   models.CategoryGarbage,
		Location:   models.Location{Lat: 12.9716, Lng: 77.5946, Address: "5th Main Rd"},
		Images:     []string{"https://cdn.example.com/bin.jpg"},
		WardArea:   "East",
		ReportedBy: "citizen-42",
	}
}

func newTestPipeline(issueDB *mocks.IssueDatabase, deptDB *mocks.DepartmentDatabase, auditDB *mocks.AuditLogDatabase, c Classifier) *Pipeline {
	return &Pipeline{
		DB:         noTxDB(),
		Issues:     issueDB,
		Audits:     auditDB,
		Classifier: c,
		Detector:   NewDuplicateDetector(issueDB, time.Second),
		Router:     NewRouter(deptDB, DefaultRoutingRules()),
		DuplicateParams: DuplicateParams{
			RadiusMeters: 100,
			Window:       24 * time.Hour,
		},
	}
}

func TestPipeline_SubmitGarbageIssueEndToEnd(t *testing.T) {
	dept := deptWithCode("SAN", 48)

	issueDB := &mocks.IssueDatabase{}
	issueDB.On("FindDuplicateCandidates", mock.Anything, models.CategoryGarbage, mock.Anything).
		Return(nil, nil)
	issueDB.On("InsertOne", mock.Anything, mock.Anything).
		Return(&mocks.InsertOneResultHelper{}, nil)

	deptDB := &mocks.DepartmentDatabase{}
	deptDB.On("FindOne", mock.Anything, bson.M{"code": "SAN", "isActive": true}).
		Return(dept, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.MatchedBy(func(a models.AuditLogEntry) bool {
		return a.Action == models.AuditActionIssueCreate && a.ActorUserID == "citizen-42"
	})).Return(&mocks.InsertOneResultHelper{}, nil)

	p := newTestPipeline(issueDB, deptDB, auditDB, stubClassifier{
		result: ClassifierResult{Category: models.CategoryGarbage, Confidence: 0.9},
	})

	before := time.Now()
	issue, err := p.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(issue.IssueID, "CIV-"))
	assert.Equal(t, models.StatusSubmitted, issue.Status)
	assert.Equal(t, models.CategoryGarbage, issue.VerifiedCategory)
	assert.False(t, issue.WasReclassified)
	assert.False(t, issue.NeedsReview)
	assert.False(t, issue.IsDuplicate)

	assert.Equal(t, dept.ID.Hex(), issue.AssignedDepartmentID)
	assert.Equal(t, models.PriorityMedium, issue.Priority)

	require.NotNil(t, issue.SlaDeadline)
	assert.WithinDuration(t, before.Add(48*time.Hour), *issue.SlaDeadline, 5*time.Second)

	require.Len(t, issue.RoutingLogs, 1)
	assert.Equal(t, "auto", issue.RoutingLogs[0].Method)
	assert.Equal(t, "garbage-sanitation", issue.RoutingLogs[0].RuleID)

	require.Len(t, issue.StatusHistory, 1)
	assert.Equal(t, models.StatusSubmitted, issue.StatusHistory[0].ToStatus)
	assert.Equal(t, issue.Status, issue.StatusHistory[len(issue.StatusHistory)-1].ToStatus)

	auditDB.AssertExpectations(t)
}

func TestPipeline_SubmitRejectsDraftWithoutImage(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	p := newTestPipeline(issueDB, &mocks.DepartmentDatabase{}, &mocks.AuditLogDatabase{}, nil)

	draft := validDraft()
	draft.Images = nil
	_, err := p.Submit(context.Background(), draft)

	assert.True(t, IsValidation(err))
	issueDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestPipeline_SubmitRejectsUnknownCategory(t *testing.T) {
	p := newTestPipeline(&mocks.IssueDatabase{}, &mocks.DepartmentDatabase{}, &mocks.AuditLogDatabase{}, nil)

	draft := validDraft()
	draft.Category = "asteroid_strike"
	_, err := p.Submit(context.Background(), draft)

	assert.True(t, IsValidation(err))
}

func TestPipeline_MissingClassifierDegradesToReview(t *testing.T) {
	dept := deptWithCode("SAN", 48)

	issueDB := &mocks.IssueDatabase{}
	issueDB.On("FindDuplicateCandidates", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	issueDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	deptDB := &mocks.DepartmentDatabase{}
	deptDB.On("FindOne", mock.Anything, mock.Anything).Return(dept, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	p := newTestPipeline(issueDB, deptDB, auditDB, nil)

	issue, err := p.Submit(context.Background(), validDraft())

	require.NoError(t, err)
	assert.True(t, issue.NeedsReview)
	assert.NotEmpty(t, issue.ClassifierError)
	assert.Equal(t, models.CategoryGarbage, issue.VerifiedCategory)
}

func TestPipeline_DuplicateLookupFailureDoesNotBlockSubmission(t *testing.T) {
	dept := deptWithCode("SAN", 48)

	issueDB := &mocks.IssueDatabase{}
	issueDB.On("FindDuplicateCandidates", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))
	issueDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	deptDB := &mocks.DepartmentDatabase{}
	deptDB.On("FindOne", mock.Anything, mock.Anything).Return(dept, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	p := newTestPipeline(issueDB, deptDB, auditDB, stubClassifier{
		result: ClassifierResult{Category: models.CategoryGarbage, Confidence: 0.9},
	})

	issue, err := p.Submit(context.Background(), validDraft())

	require.NoError(t, err)
	assert.False(t, issue.IsDuplicate)
	assert.Empty(t, issue.DuplicateOfIssueID)
}

func TestPipeline_DuplicateLinksCanonicalIssue(t *testing.T) {
	dept := deptWithCode("SAN", 48)
	loc := models.Location{Lat: 12.9716, Lng: 77.5946, Address: "5th Main Rd"}

	issueDB := &mocks.IssueDatabase{}
	issueDB.On("FindDuplicateCandidates", mock.Anything, models.CategoryGarbage, mock.Anything).
		Return([]models.Issue{{IssueID: "CIV-20260825-PRIOR", Location: loc}}, nil)
	issueDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	deptDB := &mocks.DepartmentDatabase{}
	deptDB.On("FindOne", mock.Anything, mock.Anything).Return(dept, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.MatchedBy(func(a models.AuditLogEntry) bool {
		return a.NewValues["isDuplicate"] == true
	})).Return(&mocks.InsertOneResultHelper{}, nil)

	p := newTestPipeline(issueDB, deptDB, auditDB, stubClassifier{
		result: ClassifierResult{Category: models.CategoryGarbage, Confidence: 0.9},
	})

	issue, err := p.Submit(context.Background(), validDraft())

	require.NoError(t, err)
	assert.True(t, issue.IsDuplicate)
	assert.Equal(t, "CIV-20260825-PRIOR", issue.DuplicateOfIssueID)
}

func TestPipeline_InsertFailureAbortsSubmission(t *testing.T) {
	dept := deptWithCode("SAN", 48)

	issueDB := &mocks.IssueDatabase{}
	issueDB.On("FindDuplicateCandidates", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	issueDB.On("InsertOne", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))

	deptDB := &mocks.DepartmentDatabase{}
	deptDB.On("FindOne", mock.Anything, mock.Anything).Return(dept, nil)

	auditDB := &mocks.AuditLogDatabase{}

	p := newTestPipeline(issueDB, deptDB, auditDB, stubClassifier{
		result: ClassifierResult{Category: models.CategoryGarbage, Confidence: 0.9},
	})

	_, err := p.Submit(context.Background(), validDraft())

	assert.Error(t, err)
	auditDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestPipeline_SubmitRejectsZeroCoordinates(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	p := newTestPipeline(issueDB, &mocks.DepartmentDatabase{}, &mocks.AuditLogDatabase{}, nil)

	draft := validDraft()
	draft.Location = models.Location{Address: "5th Main Rd"}
	_, err := p.Submit(context.Background(), draft)

	assert.True(t, IsValidation(err))
	issueDB.AssertNotCalled(t, "FindDuplicateCandidates", mock.Anything, mock.Anything, mock.Anything)
}

// blockedClassifier stalls until its context expires, like a hung vision
// service.
type blockedClassifier struct{}

func (blockedClassifier) Classify(ctx context.Context, _ []string, _ models.IssueCategory) (ClassifierResult, error) {
	<-ctx.Done()
	return ClassifierResult{}, ctx.Err()
}

func TestPipeline_StalledClassifierLeavesBudgetForRouting(t *testing.T) {
	dept := deptWithCode("SAN", 48)

	// Stores that honor context cancellation: if the classifier burned the
	// whole request budget, these fail the way a real driver would.
	issueDB := &mocks.IssueDatabase{}
	issueDB.On("FindDuplicateCandidates", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	issueDB.On("InsertOne", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, _ interface{}, _ ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &mocks.InsertOneResultHelper{}, nil
		})

	deptDB := &mocks.DepartmentDatabase{}
	deptDB.On("FindOne", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, _ interface{}, _ ...*options.FindOneOptions) (*models.Department, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return dept, nil
		})

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	p := newTestPipeline(issueDB, deptDB, auditDB, blockedClassifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	issue, err := p.Submit(ctx, validDraft())

	require.NoError(t, err)
	assert.True(t, issue.NeedsReview)
	assert.NotEmpty(t, issue.ClassifierError)
	assert.Equal(t, models.CategoryGarbage, issue.VerifiedCategory)
}
