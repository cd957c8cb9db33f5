package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/civicgrid/civic-issues-api/api/handlers"
	"github.com/civicgrid/civic-issues-api/databases/mocks"
	"github.com/civicgrid/civic-issues-api/models"
)

func TestAudit_AuditByEntityHandler_Success(t *testing.T) {
	mockAuditDB := &mocks.AuditLogDatabase{}
	handler := handlers.Audit{DB: mockAuditDB}

	issueID := "CIV-20260801-ABCD1234"
	mockAuditDB.On("Find", mock.Anything,
		bson.M{"entityType": "issue", "entityId": issueID},
		mock.AnythingOfType("*options.FindOptions"),
	).Return([]models.AuditLogEntry{
		{
			EntityType:  "issue",
			EntityID:    issueID,
			Action:      models.AuditActionIssueCreate,
			ActorUserID: "citizen-42",
			Timestamp:   time.Now().Add(-time.Hour),
		},
		{
			EntityType:  "issue",
			EntityID:    issueID,
			Action:      models.AuditActionTransition,
			ActorUserID: "clerk.east",
			Timestamp:   time.Now(),
		},
	}, nil)

	req, err := http.NewRequest("GET", "/api/v1/audit/issue/"+issueID, nil)
	assert.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"entity_type": "issue", "entity_id": issueID})

	w := httptest.NewRecorder()
	handler.AuditByEntityHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.AuditActionIssueCreate)
	assert.Contains(t, w.Body.String(), models.AuditActionTransition)
	mockAuditDB.AssertExpectations(t)
}

func TestAudit_AuditByEntityHandler_EmptyTrail(t *testing.T) {
	mockAuditDB := &mocks.AuditLogDatabase{}
	handler := handlers.Audit{DB: mockAuditDB}

	mockAuditDB.On("Find", mock.Anything,
		bson.M{"entityType": "issue", "entityId": "CIV-20260801-NOTRAIL1"},
		mock.AnythingOfType("*options.FindOptions"),
	).Return(nil, nil)

	req, err := http.NewRequest("GET", "/api/v1/audit/issue/CIV-20260801-NOTRAIL1", nil)
	assert.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"entity_type": "issue", "entity_id": "CIV-20260801-NOTRAIL1"})

	w := httptest.NewRecorder()
	handler.AuditByEntityHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}
