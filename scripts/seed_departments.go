package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Quick utility to seed the default municipal departments used by the
// routing rule table, plus the indexes the engine relies on.
// Usage: DB_URI=... DB_NAME=... go run scripts/seed_departments.go
func main() {
	uri := os.Getenv("DB_URI")
	dbName := os.Getenv("DB_NAME")
	if uri == "" || dbName == "" {
		fmt.Println("Usage: DB_URI=mongodb://... DB_NAME=civicgrid go run scripts/seed_departments.go")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect(ctx)

	db := client.Database(dbName)

	departments := []struct {
		Name         string
		Code         string
		SlaHours     int
		ContactEmail string
	}{
		{"Roads & Public Works", "ROADS", 72, "roads@civicgrid.org"},
		{"Electrical & Streetlighting", "ELEC", 48, "electrical@civicgrid.org"},
		{"Water & Sewerage", "WATER", 24, "water@civicgrid.org"},
		{"Sanitation", "SAN", 48, "sanitation@civicgrid.org"},
		{"General Services", "GEN", 120, "general@civicgrid.org"},
	}

	now := time.Now()
	seeded := 0
	for _, d := range departments {
		res, err := db.Collection("departments").UpdateOne(ctx,
			bson.M{"code": d.Code},
			bson.M{
				"$setOnInsert": bson.M{
					"name":         d.Name,
					"code":         d.Code,
					"slaHours":     d.SlaHours,
					"contactEmail": d.ContactEmail,
					"isActive":     true,
					"createdAt":    now,
					"updatedAt":    now,
				},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			fmt.Printf("Error seeding department %s: %v\n", d.Code, err)
			os.Exit(1)
		}
		if res.UpsertedCount > 0 {
			seeded++
			fmt.Printf("Seeded department %s (%s)\n", d.Code, d.Name)
		} else {
			fmt.Printf("Department %s already exists, skipped\n", d.Code)
		}
	}

	indexes := []struct {
		Collection string
		Model      mongo.IndexModel
	}{
		{"issues", mongo.IndexModel{
			Keys:    bson.D{{Key: "issueId", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{"issues", mongo.IndexModel{
			Keys: bson.D{{Key: "verifiedCategory", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		}},
		{"issues", mongo.IndexModel{
			Keys: bson.D{{Key: "slaDeadline", Value: 1}, {Key: "autoEscalated", Value: 1}},
		}},
		{"departments", mongo.IndexModel{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{"users", mongo.IndexModel{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{"audit_logs", mongo.IndexModel{
			Keys: bson.D{{Key: "entityType", Value: 1}, {Key: "entityId", Value: 1}, {Key: "timestamp", Value: 1}},
		}},
	}
	for _, idx := range indexes {
		if _, err := db.Collection(idx.Collection).Indexes().CreateOne(ctx, idx.Model); err != nil {
			fmt.Printf("Error creating index on %s: %v\n", idx.Collection, err)
			os.Exit(1)
		}
	}

	fmt.Printf("\nDone. %d departments seeded, %d indexes ensured.\n", seeded, len(indexes))
}
