package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// Department exported for testing purposes
type Department struct {
	DB databases.DepartmentDatabase
}

// CreateDepartmentRequest registers a municipal department.
type CreateDepartmentRequest struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	SlaHours     int    `json:"slaHours"`
	ContactEmail string `json:"contactEmail"`
}

// UpdateDepartmentRequest patches mutable department fields. Nil fields are
// left untouched.
type UpdateDepartmentRequest struct {
	Name         *string `json:"name"`
	SlaHours     *int    `json:"slaHours"`
	ContactEmail *string `json:"contactEmail"`
	IsActive     *bool   `json:"isActive"`
}

// CreateDepartmentHandler registers a new department. Codes are stored
// uppercase and must be unique; the unique index on code enforces that.
func (d Department) CreateDepartmentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateDepartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Name == "" || req.Code == "" {
		config.ErrorStatus("invalid department", http.StatusBadRequest, w, errors.New("name and code are required"))
		return
	}
	if req.SlaHours <= 0 {
		config.ErrorStatus("invalid department", http.StatusBadRequest, w, errors.New("slaHours must be positive"))
		return
	}

	now := time.Now()
	dept := models.Department{
		ID:           primitive.NewObjectID(),
		Name:         req.Name,
		Code:         strings.ToUpper(req.Code),
		SlaHours:     req.SlaHours,
		ContactEmail: req.ContactEmail,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := d.DB.InsertOne(ctx, dept); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			config.ErrorStatus("department code already exists", http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to create department", http.StatusInternalServerError, w, err)
		return
	}

	zap.S().Infow("department created", "code", dept.Code, "actor", api.Actor(r.Context()))

	b, err := json.Marshal(dept)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// DepartmentByIDHandler returns a department by ID
func (d Department) DepartmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	deptID := mux.Vars(r)["department_id"]

	zap.S().Debugf("department_id: %v", deptID)

	dID, err := primitive.ObjectIDFromHex(deptID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := d.DB.FindOne(ctx, bson.M{"_id": dID})
	if err != nil {
		config.ErrorStatus("failed to get department by ID", http.StatusNotFound, w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// DepartmentsHandler returns all departments. Pass active=true to restrict
// to departments eligible for routing.
func (d Department) DepartmentsHandler(w http.ResponseWriter, r *http.Request) {
	filter := bson.M{}
	if r.URL.Query().Get("active") == "true" {
		filter["isActive"] = true
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := d.DB.Find(ctx, filter, &options.FindOptions{
		Sort: bson.D{{Key: "code", Value: 1}},
	})
	if err != nil {
		config.ErrorStatus("failed to get departments", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Department{}
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateDepartmentHandler patches a department. Deactivating a department
// does not touch issues already assigned to it; only future routing skips it.
func (d Department) UpdateDepartmentHandler(w http.ResponseWriter, r *http.Request) {
	deptID := mux.Vars(r)["department_id"]

	dID, err := primitive.ObjectIDFromHex(deptID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req UpdateDepartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	set := bson.M{"updatedAt": time.Now()}
	if req.Name != nil {
		set["name"] = *req.Name
	}
	if req.SlaHours != nil {
		if *req.SlaHours <= 0 {
			config.ErrorStatus("invalid department", http.StatusBadRequest, w, errors.New("slaHours must be positive"))
			return
		}
		set["slaHours"] = *req.SlaHours
	}
	if req.ContactEmail != nil {
		set["contactEmail"] = *req.ContactEmail
	}
	if req.IsActive != nil {
		set["isActive"] = *req.IsActive
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	res, err := d.DB.UpdateOne(ctx, bson.M{"_id": dID}, bson.M{"$set": set})
	if err != nil {
		config.ErrorStatus("failed to update department", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("failed to get department by ID", http.StatusNotFound, w, errors.New("department not found"))
		return
	}

	dbResp, err := d.DB.FindOne(ctx, bson.M{"_id": dID})
	if err != nil {
		config.ErrorStatus("failed to get department by ID", http.StatusNotFound, w, err)
		return
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
