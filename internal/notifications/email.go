/*-------------------------------------------------------------------------
 *
 * email.go
 *    Maintainer alert mailer
 *
 * Sends job completion alerts to job maintainers over SMTP. A job that
 * pauses after a run emails its maintainer with the reason; nothing else
 * in the engine sends mail.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/notifications/email.go
 *
 *-------------------------------------------------------------------------
 */

package notifications

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

/* EmailService sends maintainer alerts over SMTP */
type EmailService struct {
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	smtpFrom     string
	enabled      bool
}

/* NewEmailService creates a new email service. The service is disabled
 * until a host and port are configured; a disabled service is a valid
 * collaborator that refuses to send. */
func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, smtpFrom string) *EmailService {
	return &EmailService{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		smtpFrom:     smtpFrom,
		enabled:      smtpHost != "" && smtpPort > 0,
	}
}

/* SendJobAlert emails a job maintainer the reason their job paused. The
 * subject names the workflow so maintainers can filter on it. */
func (e *EmailService) SendJobAlert(ctx context.Context, maintainer, workflowName, reason string) error {
	if !e.enabled {
		return fmt.Errorf("email service not configured")
	}

	/* Maintainers are stored as opaque text; only addresses can be mailed */
	if !strings.Contains(maintainer, "@") {
		return fmt.Errorf("job maintainer %q is not an email address", maintainer)
	}

	subject := fmt.Sprintf("Job Completion Error: %s", workflowName)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.smtpFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", maintainer)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	fmt.Fprintf(&msg, "The job for workflow %q did not complete and has been paused.\r\n\r\n", workflowName)
	fmt.Fprintf(&msg, "%s\r\n\r\n", reason)
	msg.WriteString("Resume the job once the cause is resolved.\r\n")

	auth := smtp.PlainAuth("", e.smtpUser, e.smtpPassword, e.smtpHost)
	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)
	if err := smtp.SendMail(addr, auth, e.smtpFrom, []string{maintainer}, []byte(msg.String())); err != nil {
		return fmt.Errorf("job alert send failed: maintainer='%s', workflow='%s', error=%w", maintainer, workflowName, err)
	}

	return nil
}

/* IsEnabled returns whether email service is enabled */
func (e *EmailService) IsEnabled() bool {
	return e.enabled
}
