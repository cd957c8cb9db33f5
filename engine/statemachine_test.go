package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/databases/mocks"
	"github.com/civicgrid/civic-issues-api/models"
)

// noTxDB returns a DatabaseHelper whose sessions are unavailable, so writes
// run outside a transaction.
func noTxDB() databases.DatabaseHelper {
	client := &mocks.ClientHelper{}
	client.On("StartSession").Return(nil, errors.New("mocked-error"))
	db := &mocks.DatabaseHelper{}
	db.On("Client").Return(client)
	return db
}

func TestCanTransition_AllowedEdges(t *testing.T) {
	allowed := []struct{ from, to models.IssueStatus }{
		{models.StatusSubmitted, models.StatusAssigned},
		{models.StatusSubmitted, models.StatusRejected},
		{models.StatusAssigned, models.StatusInProgress},
		{models.StatusAssigned, models.StatusRejected},
		{models.StatusInProgress, models.StatusResolved},
		{models.StatusInProgress, models.StatusRejected},
		{models.StatusResolved, models.StatusClosed},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge.from, edge.to), "%s -> %s should be legal", edge.from, edge.to)
	}
}

func TestCanTransition_RandomWalkNeverEscapesEdgeSet(t *testing.T) {
	statuses := []models.IssueStatus{
		models.StatusSubmitted, models.StatusAssigned, models.StatusInProgress,
		models.StatusResolved, models.StatusClosed, models.StatusRejected,
	}
	allowed := map[models.IssueStatus][]models.IssueStatus{
		models.StatusSubmitted:  {models.StatusAssigned, models.StatusRejected},
		models.StatusAssigned:   {models.StatusInProgress, models.StatusRejected},
		models.StatusInProgress: {models.StatusResolved, models.StatusRejected},
		models.StatusResolved:   {models.StatusClosed},
	}

	rng := rand.New(rand.NewSource(42))
	current := models.StatusSubmitted
	for i := 0; i < 10000; i++ {
		next := statuses[rng.Intn(len(statuses))]
		legal := false
		for _, to := range allowed[current] {
			if to == next {
				legal = true
			}
		}
		assert.Equal(t, legal, CanTransition(current, next), "%s -> %s", current, next)
		if legal {
			current = next
		}
		if current.Terminal() {
			assert.Empty(t, allowed[current])
			current = models.StatusSubmitted
		}
	}
}

func TestStateMachine_IllegalTransitionRejectedBeforeWrite(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	auditDB := &mocks.AuditLogDatabase{}
	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusSubmitted}
	_, err := sm.Transition(context.Background(), issue, models.StatusResolved, "inspector", "", nil)

	assert.True(t, IsIllegalTransition(err))
	issueDB.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	auditDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestStateMachine_ResolveRequiresImage(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	auditDB := &mocks.AuditLogDatabase{}
	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusInProgress}
	_, err := sm.Transition(context.Background(), issue, models.StatusResolved, "inspector", "fixed", nil)

	assert.True(t, IsValidation(err))
	issueDB.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachine_ConcurrentTransitionLosesWithConflict(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	issueDB.On("TransitionStatus", mock.Anything, "CIV-1", models.StatusAssigned, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	auditDB := &mocks.AuditLogDatabase{}
	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusAssigned}
	_, err := sm.Transition(context.Background(), issue, models.StatusInProgress, "inspector", "", nil)

	assert.ErrorIs(t, err, ErrConflict)
	auditDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestStateMachine_TransitionAppendsHistoryAndAudit(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	issueDB.On("TransitionStatus", mock.Anything, "CIV-1", models.StatusAssigned, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.MatchedBy(func(a models.AuditLogEntry) bool {
		return a.Action == models.AuditActionTransition &&
			a.EntityID == "CIV-1" &&
			a.NewValues["status"] == models.StatusInProgress
	})).Return(&mocks.InsertOneResultHelper{}, nil)

	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{
		IssueID: "CIV-1",
		Status:  models.StatusAssigned,
		StatusHistory: []models.StatusHistoryEntry{
			{FromStatus: "", ToStatus: models.StatusSubmitted},
			{FromStatus: models.StatusSubmitted, ToStatus: models.StatusAssigned},
		},
	}
	updated, err := sm.Transition(context.Background(), issue, models.StatusInProgress, "inspector", "on site", nil)

	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	require.Len(t, updated.StatusHistory, 3)
	last := updated.StatusHistory[len(updated.StatusHistory)-1]
	assert.Equal(t, models.StatusAssigned, last.FromStatus)
	assert.Equal(t, models.StatusInProgress, last.ToStatus)
	assert.Equal(t, "inspector", last.Actor)
	assert.Equal(t, updated.Status, last.ToStatus)

	// The caller's snapshot is untouched.
	assert.Equal(t, models.StatusAssigned, issue.Status)
	assert.Len(t, issue.StatusHistory, 2)

	auditDB.AssertExpectations(t)
}

func TestStateMachine_ResolveSetsResolutionFields(t *testing.T) {
	images := []string{"https://cdn.example.com/proof.jpg"}

	issueDB := &mocks.IssueDatabase{}
	issueDB.On("TransitionStatus", mock.Anything, "CIV-1", models.StatusInProgress, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)
	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusInProgress}
	updated, err := sm.Transition(context.Background(), issue, models.StatusResolved, "inspector", "pipe replaced", images)

	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, updated.Status)
	assert.Equal(t, images, updated.ResolutionImages)
	assert.Equal(t, "pipe replaced", updated.ResolutionNotes)
	assert.Equal(t, "inspector", updated.ResolvedByUserID)
	require.NotNil(t, updated.ResolvedAt)
}

func TestStateMachine_UpdatePriorityWritesAudit(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	issueDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.MatchedBy(func(a models.AuditLogEntry) bool {
		return a.Action == models.AuditActionPriorityUpdate &&
			a.OldValues["priority"] == models.PriorityMedium &&
			a.NewValues["priority"] == models.PriorityCritical
	})).Return(&mocks.InsertOneResultHelper{}, nil)

	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusAssigned, Priority: models.PriorityMedium}
	err := sm.UpdatePriority(context.Background(), issue, models.PriorityCritical, 5, "inspector")

	require.NoError(t, err)
	auditDB.AssertExpectations(t)
}

func TestStateMachine_UpdatePriorityAuditFailureSurfaces(t *testing.T) {
	issueDB := &mocks.IssueDatabase{}
	issueDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

	auditDB := &mocks.AuditLogDatabase{}
	auditDB.On("InsertOne", mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	sm := NewStateMachine(noTxDB(), issueDB, auditDB)

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusAssigned, Priority: models.PriorityMedium}
	err := sm.UpdatePriority(context.Background(), issue, models.PriorityCritical, 5, "inspector")

	assert.Error(t, err)
}

func TestStateMachine_RerouteRejectedOnTerminalIssue(t *testing.T) {
	sm := NewStateMachine(noTxDB(), &mocks.IssueDatabase{}, &mocks.AuditLogDatabase{})

	issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusClosed}
	err := sm.Reroute(context.Background(), issue, deptWithCode("SAN", 48), "admin", false)

	assert.True(t, IsIllegalTransition(err))
}

func TestStateMachine_ReroutePreservesDeadlineUnlessReset(t *testing.T) {
	dept := deptWithCode("SAN", 48)

	for _, resetSla := range []bool{false, true} {
		issueDB := &mocks.IssueDatabase{}
		issueDB.On("AppendRoutingLog", mock.Anything, "CIV-1", mock.MatchedBy(func(e models.RoutingLogEntry) bool {
			return e.Method == "manual" && e.SlaReset == resetSla && e.DepartmentID == dept.ID.Hex()
		}), mock.MatchedBy(func(set bson.M) bool {
			_, hasDeadline := set["slaDeadline"]
			return hasDeadline == resetSla
		})).Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil)

		auditDB := &mocks.AuditLogDatabase{}
		auditDB.On("InsertOne", mock.Anything, mock.MatchedBy(func(a models.AuditLogEntry) bool {
			return a.Action == models.AuditActionReroute
		})).Return(&mocks.InsertOneResultHelper{}, nil)

		sm := NewStateMachine(noTxDB(), issueDB, auditDB)

		deadline := time.Now().Add(10 * time.Hour)
		issue := &models.Issue{IssueID: "CIV-1", Status: models.StatusAssigned, SlaDeadline: &deadline}
		err := sm.Reroute(context.Background(), issue, dept, "admin", resetSla)

		require.NoError(t, err)
		issueDB.AssertExpectations(t)
		auditDB.AssertExpectations(t)
	}
}
