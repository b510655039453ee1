package service

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-leave-api/pkg/mail"
)

// NotificationTemplate identifies an email template.
type NotificationTemplate string

const (
	TemplateRequestCreated   NotificationTemplate = "request_created"
	TemplateApprovalNeeded   NotificationTemplate = "approval_needed"
	TemplateRequestEscalated NotificationTemplate = "request_escalated"
	TemplateRequestApproved  NotificationTemplate = "request_approved"
	TemplateRequestRejected  NotificationTemplate = "request_rejected"
	TemplateReturnOverdue    NotificationTemplate = "return_overdue"
)

// NotificationData is the template context.
type NotificationData struct {
	RequestID   string
	StudentName string
	RollNumber  string
	Kind        string
	From        time.Time
	To          time.Time
	Reason      string
	Level       string
	DecidedBy   string
	Message     string
}

// NotificationResult reports the outcome of one send. It never carries an error value.
type NotificationResult struct {
	Success bool   `json:"success"`
	Info    string `json:"info"`
}

type notificationTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

const layoutFrom = "02 Jan 2006 15:04"

var templateFuncs = template.FuncMap{
	"when":  func(t time.Time) string { return t.Format(layoutFrom) },
	"title": capitalizeWord,
}

var notificationTemplates = map[NotificationTemplate]notificationTemplate{
	TemplateRequestCreated: {
		subject: mustSubject("Your {{.Kind}} request was submitted"),
		body: mustTemplate("request_created", `<p>Hello {{.StudentName}},</p>
<p>Your {{.Kind}} request from {{when .From}} to {{when .To}} is waiting for {{title .Level}} approval.</p>
<p>Reason: {{.Reason}}</p>`),
	},
	TemplateApprovalNeeded: {
		subject: mustSubject("{{title .Kind}} request awaiting your decision"),
		body: mustTemplate("approval_needed", `<p>{{.StudentName}} ({{.RollNumber}}) requested an {{.Kind}} from {{when .From}} to {{when .To}}.</p>
<p>Reason: {{.Reason}}</p>
<p>Request ID: {{.RequestID}}</p>`),
	},
	TemplateRequestEscalated: {
		subject: mustSubject("Your {{.Kind}} request moved to {{.Level}}"),
		body: mustTemplate("request_escalated", `<p>Hello {{.StudentName}},</p>
<p>{{title .DecidedBy}} approved your {{.Kind}} request. It now waits for {{title .Level}} approval.</p>`),
	},
	TemplateRequestApproved: {
		subject: mustSubject("Your {{.Kind}} request was approved"),
		body: mustTemplate("request_approved", `<p>Hello {{.StudentName}},</p>
<p>Your {{.Kind}} from {{when .From}} to {{when .To}} was approved by {{title .DecidedBy}}.</p>`),
	},
	TemplateRequestRejected: {
		subject: mustSubject("Your {{.Kind}} request was rejected"),
		body: mustTemplate("request_rejected", `<p>Hello {{.StudentName}},</p>
<p>{{title .DecidedBy}} rejected your {{.Kind}} request.</p>
{{if .Message}}<p>Reason given: {{.Message}}</p>{{end}}`),
	},
	TemplateReturnOverdue: {
		subject: mustSubject("Outpass return overdue for {{.StudentName}}"),
		body: mustTemplate("return_overdue", `<p>The outpass for {{.StudentName}} ({{.RollNumber}}) ended at {{when .To}} and no return has been recorded.</p>
<p>Request ID: {{.RequestID}}</p>`),
	},
}

func mustTemplate(name, body string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(body))
}

// Subjects are plain text and must not be HTML escaped.
func mustSubject(raw string) *texttemplate.Template {
	return texttemplate.Must(texttemplate.New("subject").Funcs(texttemplate.FuncMap(templateFuncs)).Parse(raw))
}

func capitalizeWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// NotificationService renders templates and hands them to a mail transport.
type NotificationService struct {
	transport mail.Transport
	metrics   *MetricsService
	logger    *zap.Logger
	timeout   time.Duration
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(transport mail.Transport, metrics *MetricsService, logger *zap.Logger, timeout time.Duration) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationService{transport: transport, metrics: metrics, logger: logger, timeout: timeout}
}

// Send delivers one templated email at most once. Failures are logged and reported in the result.
func (s *NotificationService) Send(ctx context.Context, recipient string, kind NotificationTemplate, data NotificationData) NotificationResult {
	result := s.send(ctx, strings.TrimSpace(recipient), kind, data)
	s.metrics.RecordNotification(string(kind), result.Success)
	if !result.Success {
		s.logger.Warn("notification not delivered",
			zap.String("template", string(kind)),
			zap.String("recipient", recipient),
			zap.String("request_id", data.RequestID),
			zap.String("info", result.Info),
		)
	}
	return result
}

func (s *NotificationService) send(ctx context.Context, recipient string, kind NotificationTemplate, data NotificationData) NotificationResult {
	if recipient == "" {
		return NotificationResult{Info: "no recipient"}
	}
	tpl, ok := notificationTemplates[kind]
	if !ok {
		return NotificationResult{Info: "unknown template " + string(kind)}
	}
	var subject bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return NotificationResult{Info: err.Error()}
	}
	var body bytes.Buffer
	if err := tpl.body.Execute(&body, data); err != nil {
		return NotificationResult{Info: err.Error()}
	}
	if s.transport == nil {
		return NotificationResult{Info: "no transport configured"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.transport.Send(sendCtx, mail.Message{To: recipient, Subject: subject.String(), HTMLBody: body.String()}); err != nil {
		return NotificationResult{Info: err.Error()}
	}
	return NotificationResult{Success: true, Info: "sent"}
}
