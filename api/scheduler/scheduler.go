package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/engine"
	"github.com/civicgrid/civic-issues-api/models"
	templates "github.com/civicgrid/civic-issues-api/templates/html"
)

// slaSweepActor is the actor name recorded on sweep-originated audit entries.
const slaSweepActor = "sla-sweeper"

// Scheduler runs the periodic SLA breach sweep.
type Scheduler struct {
	cron       *cron.Cron
	Escalator  *engine.Escalator
	IDB        databases.IssueDatabase
	DDB        databases.DepartmentDatabase
	LockDB     databases.SchedulerLockDatabase
	instanceID string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(
	escalator *engine.Escalator,
	iDB databases.IssueDatabase,
	dDB databases.DepartmentDatabase,
	lockDB databases.SchedulerLockDatabase,
) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		Escalator:  escalator,
		IDB:        iDB,
		DDB:        dDB,
		LockDB:     lockDB,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	_, err := s.cron.AddFunc("@every 10m", s.sweepBreaches)
	if err != nil {
		zap.S().Errorw("failed to register SLA sweep job", "error", err)
	}

	_, err = s.cron.AddFunc("0 6 * * *", s.dailySummary)
	if err != nil {
		zap.S().Errorw("failed to register daily summary job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("SLA sweep scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("SLA sweep scheduler stopped")
}

// sweepBreaches flags all breached issues and notifies the owning
// departments. The distributed lock keeps at most one sweep active across
// all pods.
func (s *Scheduler) sweepBreaches() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	acquired, err := s.LockDB.TryAcquireLock(ctx, "sla_sweep_job", s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for SLA sweep", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("SLA sweep already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "sla_sweep_job", s.instanceID)

	now := time.Now()
	zap.S().Infow("Running SLA breach sweep", "instance", s.instanceID)

	breached, err := s.Escalator.FindBreached(ctx, now)
	if err != nil {
		zap.S().Errorw("failed to find breached issues", "error", err)
		return
	}

	escalated := 0
	for idx := range breached {
		issue := &breached[idx]
		reason := fmt.Sprintf("SLA deadline %s exceeded", issue.SlaDeadline.Format(time.RFC3339))
		if err := s.Escalator.Escalate(ctx, issue, reason, slaSweepActor); err != nil {
			zap.S().Errorw("failed to escalate issue",
				"issueId", issue.IssueID,
				"error", err,
			)
			continue
		}
		escalated++
		s.notifyDepartment(ctx, issue)
	}

	zap.S().Infow("SLA breach sweep complete",
		"breachedFound", len(breached),
		"escalated", escalated,
	)
}

// dailySummary logs the platform-wide issue counts once a day. Read-only;
// the lock just keeps multi-pod deployments from logging it N times.
func (s *Scheduler) dailySummary() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	acquired, err := s.LockDB.TryAcquireLock(ctx, "daily_summary_job", s.instanceID, time.Hour)
	if err != nil || !acquired {
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "daily_summary_job", s.instanceID)

	open, err := s.IDB.CountDocuments(ctx, bson.M{"status": bson.M{"$nin": []models.IssueStatus{
		models.StatusResolved, models.StatusClosed, models.StatusRejected,
	}}})
	if err != nil {
		zap.S().Errorw("daily summary: failed to count open issues", "error", err)
		return
	}
	escalated, err := s.IDB.CountDocuments(ctx, bson.M{"autoEscalated": true, "status": bson.M{"$nin": []models.IssueStatus{
		models.StatusResolved, models.StatusClosed, models.StatusRejected,
	}}})
	if err != nil {
		zap.S().Errorw("daily summary: failed to count escalated issues", "error", err)
		return
	}
	needsReview, err := s.IDB.CountDocuments(ctx, bson.M{"needsReview": true, "status": models.StatusSubmitted})
	if err != nil {
		zap.S().Errorw("daily summary: failed to count review backlog", "error", err)
		return
	}

	zap.S().Infow("daily issue summary",
		"openIssues", open,
		"escalatedOpen", escalated,
		"reviewBacklog", needsReview,
	)
}

// notifyDepartment emails the assigned department about the escalation.
// Notification failures are logged and dropped; the escalation itself has
// already been persisted and audited.
func (s *Scheduler) notifyDepartment(ctx context.Context, issue *models.Issue) {
	if issue.AssignedDepartmentID == "" {
		return
	}
	dID, err := primitive.ObjectIDFromHex(issue.AssignedDepartmentID)
	if err != nil {
		zap.S().Errorw("invalid assigned department id", "issueId", issue.IssueID, "error", err)
		return
	}
	dept, err := s.DDB.FindOne(ctx, bson.M{"_id": dID})
	if err != nil {
		zap.S().Errorw("failed to load department for escalation email",
			"issueId", issue.IssueID,
			"departmentId", issue.AssignedDepartmentID,
			"error", err,
		)
		return
	}
	if dept.ContactEmail == "" {
		return
	}

	deadline := issue.SlaDeadline.Format(time.RFC1123)
	htmlContent := templates.RenderSlaBreachEmail(dept.Name, issue.IssueID, issue.Title, deadline)
	plainText := fmt.Sprintf("Issue %s has exceeded its SLA deadline of %s and has been escalated.", issue.IssueID, deadline)

	if err := s.sendEmail(dept.ContactEmail, dept.Name, "SLA Breach: "+issue.IssueID, htmlContent, plainText); err != nil {
		zap.S().Errorw("failed to send escalation email",
			"issueId", issue.IssueID,
			"departmentId", issue.AssignedDepartmentID,
			"error", err,
		)
	}
}

func (s *Scheduler) sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("CivicGrid", "no-reply@civicgrid.org")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
	return nil
}
