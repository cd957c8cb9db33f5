package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Department is long-lived reference data managed by administrators. The
// engine only ever reads departments.
type Department struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name         string             `json:"name" bson:"name"`
	Code         string             `json:"code" bson:"code"`
	SlaHours     int                `json:"slaHours" bson:"slaHours"`
	ContactEmail string             `json:"contactEmail" bson:"contactEmail"`
	IsActive     bool               `json:"isActive" bson:"isActive"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}
