package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/classifier"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/engine"
	"github.com/civicgrid/civic-issues-api/models"
)

// submissionRateLimit is how many issues one citizen address may open per day.
const submissionRateLimit = 10

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	dbHelper databases.DatabaseHelper
	redis    *redis.Client
	Feed     *LiveFeed
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	issueDB := databases.NewIssueDatabase(a.dbHelper)
	deptDB := databases.NewDepartmentDatabase(a.dbHelper)
	userDB := databases.NewUserDatabase(a.dbHelper)
	auditDB := databases.NewAuditLogDatabase(a.dbHelper)

	rules := engine.DefaultRoutingRules()
	if a.Config.RoutingRulesPath != "" {
		loaded, err := engine.LoadRoutingRules(a.Config.RoutingRulesPath)
		if err != nil {
			zap.S().Errorw("failed to load routing rules, using defaults",
				"path", a.Config.RoutingRulesPath,
				"error", err,
			)
		} else {
			rules = loaded
		}
	}

	var visionClassifier engine.Classifier
	if a.Config.OpenAIKey != "" {
		visionClassifier = classifier.New(a.Config.OpenAIKey, a.Config.ClassifierModel)
	}

	if a.Feed == nil {
		a.Feed = NewLiveFeed()
	}

	pipeline := &engine.Pipeline{
		DB:         a.dbHelper,
		Issues:     issueDB,
		Audits:     auditDB,
		Classifier: visionClassifier,
		Detector:   engine.NewDuplicateDetector(issueDB, 10*time.Second),
		Router:     engine.NewRouter(deptDB, rules),
		DuplicateParams: engine.DuplicateParams{
			RadiusMeters: 100,
			Window:       24 * time.Hour,
		},
	}

	i := Issue{
		DB:       issueDB,
		DDB:      deptDB,
		Pipeline: pipeline,
		SM:       engine.NewStateMachine(a.dbHelper, issueDB, auditDB),
		Feed:     a.Feed,
	}
	d := Department{DB: deptDB}
	u := User{DB: userDB, JWTSecret: a.Config.JWTSecret}
	al := Audit{DB: auditDB}
	uploads := UploadsHandler{}

	limiter := api.NewRateLimiter(a.redis, submissionRateLimit)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)
	r.HandleFunc("/live", a.Feed.ServeWS)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", api.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")
	apiCreate.Handle("/auth/login", http.HandlerFunc(u.LoginHandler)).Methods("POST")

	// citizen-facing
	apiCreate.Handle("/issue", limiter.Middleware(http.HandlerFunc(i.CreateIssueHandler))).Methods("POST")
	apiCreate.Handle("/issue/{issue_id}", http.HandlerFunc(i.IssueByIDHandler)).Methods("GET")
	apiCreate.Handle("/issues", http.HandlerFunc(i.IssuesHandler)).Methods("GET")
	apiCreate.Handle("/issues/success-stories", http.HandlerFunc(i.SuccessStoriesHandler)).Methods("GET")
	apiCreate.Handle("/issues/stats", http.HandlerFunc(i.IssueStatsHandler)).Methods("GET")

	// authority-facing
	apiCreate.Handle("/issue/{issue_id}/status", api.Middleware(http.HandlerFunc(i.TransitionIssueHandler))).Methods("PUT")
	apiCreate.Handle("/issue/{issue_id}/priority", api.Middleware(http.HandlerFunc(i.UpdatePriorityHandler))).Methods("PUT")
	apiCreate.Handle("/issue/{issue_id}/route", api.Middleware(http.HandlerFunc(i.RerouteIssueHandler))).Methods("PUT")

	apiCreate.Handle("/department", api.Middleware(http.HandlerFunc(d.CreateDepartmentHandler))).Methods("POST")
	apiCreate.Handle("/department/{department_id}", api.Middleware(http.HandlerFunc(d.DepartmentByIDHandler))).Methods("GET")
	apiCreate.Handle("/department/{department_id}", api.Middleware(http.HandlerFunc(d.UpdateDepartmentHandler))).Methods("PATCH")
	apiCreate.Handle("/departments", api.Middleware(http.HandlerFunc(d.DepartmentsHandler))).Methods("GET")

	apiCreate.Handle("/user", api.Middleware(http.HandlerFunc(u.CreateUserHandler))).Methods("POST")

	apiCreate.Handle("/audit/{entity_type}/{entity_id}", api.Middleware(http.HandlerFunc(al.AuditByEntityHandler))).Methods("GET")

	apiCreate.Handle("/uploads/signature", api.Middleware(http.HandlerFunc(uploads.GenerateSignature))).Methods("POST")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("civic-issues-api has connected to the database")

	if a.Config.RedisAddress != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddress,
			Password: a.Config.RedisPassword,
		})
	}

	// initialize api router
	a.initializeRoutes()
	return nil

}

// DBHelper exposes the database helper for the scheduler wiring in main.
func (a *App) DBHelper() databases.DatabaseHelper {
	return a.dbHelper
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}

// getPage returns the zero-based page index from the query string.
func getPage(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		return 0
	}
	return page
}
