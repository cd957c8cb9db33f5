package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/engine"
	"github.com/civicgrid/civic-issues-api/models"
)

// TransitionIssueRequest moves an issue to a new lifecycle status.
type TransitionIssueRequest struct {
	ToStatus         models.IssueStatus `json:"toStatus"`
	Notes            string             `json:"notes"`
	ResolutionImages []string           `json:"resolutionImages"`
}

// UpdatePriorityRequest overrides the routed priority.
type UpdatePriorityRequest struct {
	Priority      models.IssuePriority `json:"priority"`
	SeverityLevel int                  `json:"severityLevel"`
}

// RerouteIssueRequest reassigns an issue to another department. The SLA
// deadline is only recomputed when ResetSla is set, so a misrouted issue
// cannot be used to restart its own clock by accident.
type RerouteIssueRequest struct {
	DepartmentID string `json:"departmentId"`
	ResetSla     bool   `json:"resetSla"`
}

// TransitionIssueHandler applies a status transition through the state
// machine. Illegal edges are rejected before any write happens.
func (i Issue) TransitionIssueHandler(w http.ResponseWriter, r *http.Request) {
	issueID := mux.Vars(r)["issue_id"]

	var req TransitionIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.DB.FindOne(ctx, bson.M{"issueId": issueID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	updated, err := i.SM.Transition(ctx, issue, req.ToStatus, api.Actor(r.Context()), req.Notes, req.ResolutionImages)
	if err != nil {
		switch {
		case engine.IsIllegalTransition(err):
			config.ErrorStatus("illegal status transition", http.StatusUnprocessableEntity, w, err)
		case engine.IsValidation(err):
			config.ErrorStatus("invalid transition request", http.StatusBadRequest, w, err)
		case errors.Is(err, engine.ErrConflict):
			config.ErrorStatus("issue was modified concurrently", http.StatusConflict, w, err)
		default:
			config.ErrorStatus("failed to transition issue", http.StatusInternalServerError, w, err)
		}
		return
	}

	if i.Feed != nil {
		i.Feed.BroadcastTransition(updated.IssueID, issue.Status, updated.Status)
	}

	b, err := json.Marshal(updated)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdatePriorityHandler overrides the priority and severity on an issue.
func (i Issue) UpdatePriorityHandler(w http.ResponseWriter, r *http.Request) {
	issueID := mux.Vars(r)["issue_id"]

	var req UpdatePriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if !req.Priority.Valid() {
		config.ErrorStatus("invalid priority", http.StatusBadRequest, w, errors.New("unknown priority "+string(req.Priority)))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.DB.FindOne(ctx, bson.M{"issueId": issueID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	if err := i.SM.UpdatePriority(ctx, issue, req.Priority, req.SeverityLevel, api.Actor(r.Context())); err != nil {
		config.ErrorStatus("failed to update priority", http.StatusInternalServerError, w, err)
		return
	}

	issue.Priority = req.Priority
	issue.SeverityLevel = req.SeverityLevel
	b, err := json.Marshal(issue)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// RerouteIssueHandler manually reassigns an issue to another department.
func (i Issue) RerouteIssueHandler(w http.ResponseWriter, r *http.Request) {
	issueID := mux.Vars(r)["issue_id"]

	var req RerouteIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.DepartmentID == "" {
		config.ErrorStatus("invalid reroute request", http.StatusBadRequest, w, errors.New("departmentId is required"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.DB.FindOne(ctx, bson.M{"issueId": issueID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	dID, err := primitive.ObjectIDFromHex(req.DepartmentID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	dept, err := i.DDB.FindOne(ctx, bson.M{"_id": dID, "isActive": true})
	if err != nil {
		config.ErrorStatus("failed to get department by ID", http.StatusNotFound, w, err)
		return
	}

	if err := i.SM.Reroute(ctx, issue, dept, api.Actor(r.Context()), req.ResetSla); err != nil {
		if engine.IsIllegalTransition(err) {
			config.ErrorStatus("issue can no longer be rerouted", http.StatusUnprocessableEntity, w, err)
			return
		}
		if engine.IsValidation(err) {
			config.ErrorStatus("invalid reroute request", http.StatusBadRequest, w, err)
			return
		}
		config.ErrorStatus("failed to reroute issue", http.StatusInternalServerError, w, err)
		return
	}

	updated, err := i.DB.FindOne(ctx, bson.M{"issueId": issueID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}
	b, err := json.Marshal(updated)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
