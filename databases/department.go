package databases

// go generate: mockery --name DepartmentDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/models"
)

const departmentName = "departments"

// DepartmentDatabase contains the methods to use with the department database
type DepartmentDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Department, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Department, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type departmentDatabase struct {
	db DatabaseHelper
}

// NewDepartmentDatabase initializes a new instance of department database with the provided db connection
func NewDepartmentDatabase(db DatabaseHelper) DepartmentDatabase {
	return &departmentDatabase{
		db: db,
	}
}

func (d *departmentDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Department, error) {
	department := &models.Department{}
	err := d.db.Collection(departmentName).FindOne(ctx, filter, opts...).Decode(&department)
	if err != nil {
		return nil, err
	}
	return department, nil
}

func (d *departmentDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Department, error) {
	var departments []models.Department
	cr, err := d.db.Collection(departmentName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&departments)
	if err != nil {
		return nil, err
	}
	return departments, nil
}

func (d *departmentDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return d.db.Collection(departmentName).InsertOne(ctx, document, opts...)
}

func (d *departmentDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return d.db.Collection(departmentName).UpdateOne(ctx, filter, update, opts...)
}
