package pipeline

import (
	"context"

	"github.com/rewired-gh/adreport/internal/mailer"
	"github.com/rewired-gh/adreport/internal/models"
)

// ReportSource fetches the raw report for one run.
//
//go:generate mockgen -destination=mocks/mock_interface.go -source=interface.go
type ReportSource interface {
	Report(ctx context.Context) (*models.RawReport, error)
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, msg *mailer.Message) error
}

// Alerter reports summaries and run failures to an ops channel.
type Alerter interface {
	SendSummary(data *models.NotificationData) error
	SendError(runErr error) error
	SendRecovery(failureCount int) error
}
