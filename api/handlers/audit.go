package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// Audit exported for testing purposes
type Audit struct {
	DB databases.AuditLogDatabase
}

// AuditByEntityHandler returns the audit trail for one entity, oldest first.
// The trail is append-only; there is no write surface here.
func (a Audit) AuditByEntityHandler(w http.ResponseWriter, r *http.Request) {
	entityType := mux.Vars(r)["entity_type"]
	entityID := mux.Vars(r)["entity_id"]

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	limit64 := int64(limit)
	page := getPage(r)
	skip64 := int64(page * limit)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := a.DB.Find(ctx, bson.M{
		"entityType": entityType,
		"entityId":   entityID,
	}, &options.FindOptions{
		Limit: &limit64,
		Skip:  &skip64,
		Sort:  bson.D{{Key: "timestamp", Value: 1}},
	})
	if err != nil {
		config.ErrorStatus("failed to get audit entries", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.AuditLogEntry{}
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
