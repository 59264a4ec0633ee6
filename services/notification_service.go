package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

// Notification event keys.
const (
	EventSubmissionReceived = "submission_received"
	EventSubmissionApproved = "submission_approved"
	EventSubmissionAdvanced = "submission_advanced"
	EventSubmissionRejected = "submission_rejected"
	EventWinnerSelected     = "winner_selected"
	EventMessageReceived    = "message_received"
)

type notificationTemplate struct {
	Title string
	Body  string
	Type  string
}

var defaultTemplates = map[string]notificationTemplate{
	EventSubmissionReceived: {"Submission received", "Your submission for {{round}} was received. The round closes {{deadline}}.", "info"},
	EventSubmissionApproved: {"Submission approved", "Your submission for {{round}} was approved. {{feedback}}", "success"},
	EventSubmissionAdvanced: {"You advanced to {{next_round}}", "Your submission for {{round}} was approved and you can now submit to {{next_round}}. {{feedback}}", "success"},
	EventSubmissionRejected: {"Submission not approved", "Your submission for {{round}} was not approved. {{feedback}}", "warning"},
	EventWinnerSelected:     {"You won {{prize}}", "Congratulations! You were awarded {{prize}} in {{competition}}.", "success"},
	EventMessageReceived:    {"New message from {{sender}}", "{{preview}}", "info"},
}

// NotificationEvent is a notification to create for one user.
type NotificationEvent struct {
	UserID              uint
	Event               string
	Data                map[string]string
	RelatedSubmissionID *uint
}

// Notifier records user-facing notifications. Failures are logged, never returned, so a
// notification problem cannot fail the operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, ev NotificationEvent)
}

// Mailer sends an HTML email.
type Mailer interface {
	Send(to []string, subject, html string) error
}

// SMTPMailer sends through the configured SMTP server.
type SMTPMailer struct {
	Settings config.MailSettings
}

func (m SMTPMailer) Send(to []string, subject, body string) error {
	return config.SendMail(m.Settings, to, subject, body)
}

// ListOptions pages notification listings.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

type NotificationService struct {
	db     *gorm.DB
	mailer Mailer
	clock  Clock
}

// NewNotificationService creates the service. mailer may be nil to disable emails.
func NewNotificationService(db *gorm.DB, mailer Mailer) *NotificationService {
	if db == nil {
		db = config.DB
	}
	return &NotificationService{db: db, mailer: mailer}
}

func (s *NotificationService) WithClock(c Clock) *NotificationService {
	s.clock = c
	return s
}

func applyTemplatePlaceholders(text string, data map[string]string) string {
	result := text
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return strings.TrimSpace(result)
}

func (s *NotificationService) template(ctx context.Context, event string) (notificationTemplate, bool) {
	tmpl, ok := defaultTemplates[event]
	var override models.NotificationMessage
	err := s.db.WithContext(ctx).
		Where("event_key = ? AND is_active = ?", event, true).
		First(&override).Error
	if err == nil {
		tmpl.Title = override.TitleTemplate
		tmpl.Body = override.BodyTemplate
		if tmpl.Type == "" {
			tmpl.Type = "info"
		}
		return tmpl, true
	}
	return tmpl, ok
}

// Notify stores the notification and, when a mailer is configured, emails the user.
func (s *NotificationService) Notify(ctx context.Context, ev NotificationEvent) {
	log := config.Log.WithField("event", ev.Event).WithField("user_id", ev.UserID)

	tmpl, ok := s.template(ctx, ev.Event)
	if !ok {
		log.Warn("notification template missing")
		return
	}
	n := models.Notification{
		UserID:              ev.UserID,
		Title:               applyTemplatePlaceholders(tmpl.Title, ev.Data),
		Message:             applyTemplatePlaceholders(tmpl.Body, ev.Data),
		Type:                tmpl.Type,
		RelatedSubmissionID: ev.RelatedSubmissionID,
		CreateAt:            s.clock.now(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		log.WithError(err).Error("create notification failed")
		return
	}

	if s.mailer == nil {
		return
	}
	bg := persistentContext(ctx)
	go func() {
		var user models.User
		if err := s.db.WithContext(bg).First(&user, ev.UserID).Error; err != nil || user.Email == "" {
			return
		}
		if err := s.mailer.Send([]string{user.Email}, n.Title, buildEmailHTML(n.Title, user.Name, n.Message)); err != nil {
			log.WithError(err).Warn("notification email send failed")
		}
	}()
}

func buildEmailHTML(subject, recipient, message string) string {
	greeting := "Hello"
	if recipient != "" {
		greeting = "Hello " + recipient
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<h2>%s</h2>
<p>%s,</p>
<p>%s</p>
</body>
</html>`, html.EscapeString(subject), html.EscapeString(greeting), html.EscapeString(message))
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID uint, opts ListOptions) ([]models.Notification, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if opts.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}

	items := make([]models.Notification, 0)
	if err := q.Order("create_at DESC").Order("notification_id DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	return items, nil
}

// UnreadCount returns how many notifications the user has not read.
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, errors.Wrap(err, "count unread notifications")
}

// MarkRead marks one of the user's notifications read. Marking an already-read
// notification again succeeds and leaves it read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) (*models.Notification, error) {
	var n models.Notification
	err := s.db.WithContext(ctx).
		Where("notification_id = ? AND user_id = ?", notificationID, userID).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load notification")
	}
	if n.IsRead {
		return &n, nil
	}

	now := s.clock.now()
	if err := s.db.WithContext(ctx).Model(&n).Updates(map[string]interface{}{
		"is_read":   true,
		"update_at": now,
	}).Error; err != nil {
		return nil, errors.Wrap(err, "mark notification read")
	}
	n.IsRead = true
	n.UpdateAt = &now
	return &n, nil
}

// MarkAllRead marks every unread notification of the user read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "update_at": s.clock.now()})
	return res.RowsAffected, errors.Wrap(res.Error, "mark all notifications read")
}
