package databases

// go generate: mockery --name AuditLogDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/models"
)

const auditLogName = "audit_logs"

// AuditLogDatabase contains the methods to use with the audit log
// collection. Entries are write-once: there is deliberately no update or
// delete method on this interface.
type AuditLogDatabase interface {
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.AuditLogEntry, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
}

type auditLogDatabase struct {
	db DatabaseHelper
}

// NewAuditLogDatabase initializes a new instance of audit log database with the provided db connection
func NewAuditLogDatabase(db DatabaseHelper) AuditLogDatabase {
	return &auditLogDatabase{
		db: db,
	}
}

func (a *auditLogDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	cr, err := a.db.Collection(auditLogName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *auditLogDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return a.db.Collection(auditLogName).InsertOne(ctx, document, opts...)
}
