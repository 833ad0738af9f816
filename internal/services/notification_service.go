// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fundingdesk/underwriting-backend/internal/config"
	"github.com/fundingdesk/underwriting-backend/internal/models"
)

type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{db: db, config: config}
}

// SendDecisionNotification records an in-app notification for the ops team
// and emails the configured ops address when a decision changes.
func (s *NotificationService) SendDecisionNotification(decision *models.UnderwritingDecision, event string) {
	notification := &models.AdminNotification{
		Type:                "underwriting_decision",
		Title:               fmt.Sprintf("%s: %s", decision.BusinessName, event),
		Message:             fmt.Sprintf("Decision for %s moved to %s", decision.BusinessEmail, decision.Status),
		Priority:            "medium",
		Status:              "unread",
		RelatedResourceType: "underwriting_decisions",
		RelatedResourceID:   &decision.ID,
	}
	if err := s.db.Create(notification).Error; err != nil {
		logrus.WithError(err).Error("Failed to create decision notification")
	}

	tmpl := s.getEmailTemplate(event)
	body, err := s.renderTemplate(tmpl.Body, map[string]interface{}{
		"BusinessName":  decision.BusinessName,
		"BusinessEmail": decision.BusinessEmail,
		"Status":        string(decision.Status),
		"DeclineReason": decision.DeclineReason,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to render notification email")
		return
	}

	if err := s.sendEmail(s.config.Email.OpsEmail, tmpl.Subject, body); err != nil {
		logrus.WithError(err).WithField("event", event).Warn("Failed to send decision email")
	}
}

// SendStatementReviewedNotification flags a reviewed statement for the ops
// feed.
func (s *NotificationService) SendStatementReviewedNotification(statement *models.StatementUpload) {
	notification := &models.AdminNotification{
		Type:                "statement_review",
		Title:               fmt.Sprintf("Statement %s for %s", statement.Status, statement.BusinessName),
		Message:             fmt.Sprintf("Statement %s for %s was marked %s", statement.FileName, statement.BusinessEmail, statement.Status),
		Priority:            "low",
		Status:              "unread",
		RelatedResourceType: "statement_uploads",
		RelatedResourceID:   &statement.ID,
	}
	if err := s.db.Create(notification).Error; err != nil {
		logrus.WithError(err).Error("Failed to create statement notification")
	}
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPUsername == "" {
		logrus.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).Info("SMTP not configured, skipping email")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)
	addr := s.config.Email.SMTPHost + ":" + s.config.Email.SMTPPort

	msg := []byte(fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s",
		s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body))

	return smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(event string) EmailTemplate {
	switch event {
	case "approved", "approval_recorded":
		return EmailTemplate{
			Subject: "Approval recorded",
			Body:    "An approval was recorded for {{.BusinessName}} ({{.BusinessEmail}}). Current status: {{.Status}}.",
		}
	case "funded":
		return EmailTemplate{
			Subject: "Business funded",
			Body:    "{{.BusinessName}} ({{.BusinessEmail}}) has been marked funded.",
		}
	case "declined", "unqualified":
		return EmailTemplate{
			Subject: "Decision recorded",
			Body:    "{{.BusinessName}} ({{.BusinessEmail}}) was marked {{.Status}}. Reason: {{.DeclineReason}}.",
		}
	default:
		return EmailTemplate{
			Subject: "Underwriting update",
			Body:    "Decision for {{.BusinessName}} ({{.BusinessEmail}}) changed. Current status: {{.Status}}.",
		}
	}
}
