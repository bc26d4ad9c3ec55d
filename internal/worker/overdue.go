package worker

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/careline/records-api/internal/email"
	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/pkg/logger"
	"github.com/careline/records-api/pkg/metrics"
)

// OverdueNotifier scans for lab tests past their due date and e-mails
// the ordering officer. Sends are rate limited so a backlog sweep
// cannot flood the mail relay, and each test is nagged at most once per
// scan interval.
type OverdueNotifier struct {
	labTests repository.LabTestRepository
	users    repository.UserRepository
	mailer   email.Service
	limiter  *rate.Limiter
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewOverdueNotifier(labTests repository.LabTestRepository, users repository.UserRepository, mailer email.Service, sendsPerMinute int, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *OverdueNotifier {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	if sendsPerMinute <= 0 {
		sendsPerMinute = 30
	}
	return &OverdueNotifier{
		labTests: labTests,
		users:    users,
		mailer:   mailer,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(sendsPerMinute)), 1),
		interval: interval,
		logger:   log,
		metrics:  m,
	}
}

func (w *OverdueNotifier) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting overdue lab test notifier")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down overdue notifier")
			return
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				w.logger.Error(err, "Overdue scan failed")
			}
		}
	}
}

func (w *OverdueNotifier) scan(ctx context.Context) error {
	tests, err := w.labTests.List(ctx, &model.LabTestFilters{Overdue: true})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, test := range tests {
		if err := w.notify(ctx, test, now); err != nil {
			w.logger.Error(err, "Failed to send overdue notice",
				"test_code", test.TestCode,
				"ordered_by", test.OrderedBy.String())
		}
	}
	return nil
}

func (w *OverdueNotifier) notify(ctx context.Context, test *model.LabTest, now time.Time) error {
	officer, err := w.users.Get(ctx, test.OrderedBy)
	if err != nil {
		return err
	}
	if officer.Status != model.UserStatusActive {
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	daysOverdue := int(now.Sub(test.DueDate).Hours() / 24)
	if err := w.mailer.SendOverdueNotice(ctx, officer.Email, officer.FullName, test.TestCode, string(test.TestType), daysOverdue); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.OverdueNoticesSent.Inc()
	}
	return nil
}
