package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/api/handlers"
	"github.com/civicgrid/civic-issues-api/api/scheduler"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/engine"
)

func main() {
	a := handlers.App{}
	a.Config = *config.New()

	if err := a.Initialize(); err != nil {
		log.Fatal(err)
	}

	issueDB := databases.NewIssueDatabase(a.DBHelper())
	auditDB := databases.NewAuditLogDatabase(a.DBHelper())
	deptDB := databases.NewDepartmentDatabase(a.DBHelper())
	lockDB := databases.NewSchedulerLockDatabase(a.DBHelper())

	s := scheduler.NewScheduler(
		engine.NewEscalator(a.DBHelper(), issueDB, auditDB),
		issueDB,
		deptDB,
		lockDB,
	)
	s.Start()
	defer s.Stop()

	port := os.Getenv("PORT")
	baseURL := os.Getenv("BASE_URL")
	zap.S().Infow("civic-issues-api is up and running",
		"port", port,
		"url", baseURL,
	)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%v", port), a.Router))
}
