package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/engine"
	"github.com/civicgrid/civic-issues-api/models"
)

// defaultLimit caps list responses when the caller does not set one.
const defaultLimit = 10

// Issue exported for testing purposes
type Issue struct {
	DB       databases.IssueDatabase
	DDB      databases.DepartmentDatabase
	Pipeline *engine.Pipeline
	SM       *engine.StateMachine
	Feed     *LiveFeed
}

// CreateIssueRequest is the citizen submission payload.
type CreateIssueRequest struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Category    models.IssueCategory `json:"category"`
	Location    models.Location      `json:"location"`
	Images      []string             `json:"images"`
	WardArea    string               `json:"wardArea"`
	ReportedBy  string               `json:"reportedBy"`
}

// CreateIssueHandler runs a submission through the creation pipeline and
// returns the stored issue, including any duplicate flag and routing result.
func (i Issue) CreateIssueHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Pipeline.Submit(ctx, engine.Draft{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		Images:      req.Images,
		WardArea:    req.WardArea,
		ReportedBy:  req.ReportedBy,
	})
	if err != nil {
		if engine.IsValidation(err) {
			config.ErrorStatus("invalid issue submission", http.StatusBadRequest, w, err)
			return
		}
		config.ErrorStatus("failed to create issue", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(issue)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// IssueByIDHandler returns an issue by its public issue ID. The SLA breach
// flag is derived at read time, never stored.
func (i Issue) IssueByIDHandler(w http.ResponseWriter, r *http.Request) {
	issueID := mux.Vars(r)["issue_id"]

	zap.S().Debugf("issue_id: %v", issueID)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := i.DB.FindOne(ctx, bson.M{"issueId": issueID})
	if err != nil {
		config.ErrorStatus("failed to get issue by ID", http.StatusNotFound, w, err)
		return
	}

	resp := models.IssueWithSLA{
		Issue:       *dbResp,
		SlaBreached: engine.IsBreached(dbResp, time.Now()),
	}
	b, err := json.Marshal(resp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// IssuesHandler returns issues filtered by the query string. Supported
// filters: status, category, department_id, ward, reported_by, duplicates,
// needs_review, breached (true/false), plus limit/page pagination.
func (i Issue) IssuesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", defaultLimit, err))
		limit = defaultLimit
	}
	limit64 := int64(limit)
	page := getPage(r)
	skip64 := int64(page * limit)

	filter := bson.M{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter["status"] = status
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filter["verifiedCategory"] = category
	}
	if deptID := r.URL.Query().Get("department_id"); deptID != "" {
		filter["assignedDepartmentId"] = deptID
	}
	if ward := r.URL.Query().Get("ward"); ward != "" {
		filter["wardArea"] = ward
	}
	if reportedBy := r.URL.Query().Get("reported_by"); reportedBy != "" {
		filter["reportedBy"] = reportedBy
	}
	if dup := r.URL.Query().Get("duplicates"); dup != "" {
		filter["isDuplicate"] = dup == "true"
	}
	if review := r.URL.Query().Get("needs_review"); review != "" {
		filter["needsReview"] = review == "true"
	}
	if r.URL.Query().Get("breached") == "true" {
		// Breach is derived, not stored: narrow on the expired deadline and,
		// unless the caller pinned a status, on still-open states.
		filter["slaDeadline"] = bson.M{"$lt": time.Now()}
		if _, ok := filter["status"]; !ok {
			filter["status"] = bson.M{"$nin": []models.IssueStatus{models.StatusResolved, models.StatusClosed}}
		}
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := i.DB.Find(ctx, filter, &options.FindOptions{
		Limit: &limit64,
		Skip:  &skip64,
		Sort:  bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		config.ErrorStatus("failed to get issues", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Issue{}
	}

	now := time.Now()
	resp := make([]models.IssueWithSLA, 0, len(dbResp))
	for idx := range dbResp {
		resp = append(resp, models.IssueWithSLA{
			Issue:       dbResp[idx],
			SlaBreached: engine.IsBreached(&dbResp[idx], now),
		})
	}

	b, err := json.Marshal(resp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// SuccessStoriesHandler returns recently resolved issues with their
// resolution images, newest resolution first.
func (i Issue) SuccessStoriesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	limit64 := int64(limit)
	page := getPage(r)
	skip64 := int64(page * limit)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := i.DB.Find(ctx, bson.M{
		"status":           bson.M{"$in": []models.IssueStatus{models.StatusResolved, models.StatusClosed}},
		"images":           bson.M{"$exists": true, "$ne": []string{}},
		"resolutionImages": bson.M{"$exists": true, "$ne": []string{}},
	}, &options.FindOptions{
		Limit: &limit64,
		Skip:  &skip64,
		Sort:  bson.D{{Key: "resolvedAt", Value: -1}},
	})
	if err != nil {
		config.ErrorStatus("failed to get success stories", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Issue{}
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// IssueStatsHandler aggregates issue counts per status and per verified
// category for the public dashboard.
func (i Issue) IssueStatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	byStatus, err := i.DB.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		config.ErrorStatus("failed to aggregate issues by status", http.StatusInternalServerError, w, err)
		return
	}

	byCategory, err := i.DB.Aggregate(ctx, []bson.M{
		{"$group": bson.M{"_id": "$verifiedCategory", "count": bson.M{"$sum": 1}}},
	})
	if err != nil {
		config.ErrorStatus("failed to aggregate issues by category", http.StatusInternalServerError, w, err)
		return
	}

	escalated, err := i.DB.CountDocuments(ctx, bson.M{"autoEscalated": true})
	if err != nil {
		config.ErrorStatus("failed to count escalated issues", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(bson.M{
		"byStatus":      byStatus,
		"byCategory":    byCategory,
		"autoEscalated": escalated,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
