package databases

// go generate: mockery --name IssueDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/models"
)

const issueName = "issues"

// IssueDatabase contains the methods to use with the issue database.
//
// statusHistory and routingLogs are append-only by convention: the only
// write paths for either are the $push operations below, never a
// whole-column overwrite.
type IssueDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Issue, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Issue, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error)
	Aggregate(context.Context, interface{}) ([]bson.M, error)
	TransitionStatus(ctx context.Context, issueID string, from models.IssueStatus, entry models.StatusHistoryEntry, set bson.M) (*mongo.UpdateResult, error)
	AppendRoutingLog(ctx context.Context, issueID string, entry models.RoutingLogEntry, set bson.M) (*mongo.UpdateResult, error)
	FindDuplicateCandidates(ctx context.Context, category models.IssueCategory, since time.Time) ([]models.Issue, error)
}

type issueDatabase struct {
	db DatabaseHelper
}

// NewIssueDatabase initializes a new instance of issue database with the provided db connection
func NewIssueDatabase(db DatabaseHelper) IssueDatabase {
	return &issueDatabase{
		db: db,
	}
}

func (i *issueDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Issue, error) {
	issue := &models.Issue{}
	err := i.db.Collection(issueName).FindOne(ctx, filter, opts...).Decode(&issue)
	if err != nil {
		return nil, err
	}
	return issue, nil
}

func (i *issueDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Issue, error) {
	var issues []models.Issue
	cr, err := i.db.Collection(issueName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&issues)
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (i *issueDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return i.db.Collection(issueName).InsertOne(ctx, document, opts...)
}

func (i *issueDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return i.db.Collection(issueName).UpdateOne(ctx, filter, update, opts...)
}

func (i *issueDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return i.db.Collection(issueName).CountDocuments(ctx, filter, opts...)
}

func (i *issueDatabase) Aggregate(ctx context.Context, pipeline interface{}) ([]bson.M, error) {
	cr, err := i.db.Collection(issueName).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var results []bson.M
	if err := cr.Decode(&results); err != nil {
		return nil, err
	}
	return results, nil
}

// TransitionStatus performs the guarded lifecycle write: the filter matches
// on the expected current status so that of two concurrent transitions only
// one can match, and the history entry is appended in the same document
// update as the status change.
func (i *issueDatabase) TransitionStatus(ctx context.Context, issueID string, from models.IssueStatus, entry models.StatusHistoryEntry, set bson.M) (*mongo.UpdateResult, error) {
	if set == nil {
		set = bson.M{}
	}
	set["status"] = entry.ToStatus
	set["updatedAt"] = time.Now()

	filter := bson.M{"issueId": issueID, "status": from}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"statusHistory": entry},
	}
	return i.db.Collection(issueName).UpdateOne(ctx, filter, update)
}

// AppendRoutingLog appends one routing decision and applies the assignment
// fields in the same update.
func (i *issueDatabase) AppendRoutingLog(ctx context.Context, issueID string, entry models.RoutingLogEntry, set bson.M) (*mongo.UpdateResult, error) {
	if set == nil {
		set = bson.M{}
	}
	set["updatedAt"] = time.Now()

	filter := bson.M{"issueId": issueID}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"routingLogs": entry},
	}
	return i.db.Collection(issueName).UpdateOne(ctx, filter, update)
}

// FindDuplicateCandidates returns open issues of the given category created
// at or after since. Radius filtering happens in the engine; the store only
// narrows by category, status and age.
func (i *issueDatabase) FindDuplicateCandidates(ctx context.Context, category models.IssueCategory, since time.Time) ([]models.Issue, error) {
	filter := bson.M{
		"verifiedCategory": category,
		"status":           bson.M{"$nin": []models.IssueStatus{models.StatusClosed, models.StatusRejected}},
		"createdAt":        bson.M{"$gte": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return i.Find(ctx, filter, opts)
}
