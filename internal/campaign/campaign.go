// Package campaign runs dispatch and retry passes under the pass lock and
// handles what follows a pass: the missed-call list, metrics, and the chat
// summary.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/lock"
	"github.com/zulandar/dropline/internal/metrics"
	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/notify"
	"github.com/zulandar/dropline/internal/retry"
	"gorm.io/gorm"
)

// KindImport is the lock kind held while a dataset replaces the ledger.
const KindImport = "import"

// Defaults for Options.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	notifyTimeout            = 15 * time.Second
)

// Options tunes the pass lock.
type Options struct {
	Holder            string        // lock holder name; defaults to host:pid
	LockTimeout       time.Duration // stale session cutoff
	HeartbeatInterval time.Duration
}

// Service runs passes against one ledger.
type Service struct {
	db         *gorm.DB
	ledger     *ledger.Store
	dispatcher *dispatch.Dispatcher
	missed     *retry.Store
	queue      *retry.Queue
	notifier   notify.Notifier
	sizer      retry.QueueSizer
	opts       Options
}

// New creates a Service. The dispatcher is shared by dispatch and retry
// passes so both use the same provider and pacing.
func New(db *gorm.DB, l *ledger.Store, d *dispatch.Dispatcher, opts Options) *Service {
	if opts.Holder == "" {
		opts.Holder = defaultHolder()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = lock.DefaultHeartbeatTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	missed := retry.NewStore(db)
	return &Service{
		db:         db,
		ledger:     l,
		dispatcher: d,
		missed:     missed,
		queue:      retry.NewQueue(missed, l, d),
		notifier:   notify.Noop{},
		opts:       opts,
	}
}

// WithNotifier sets where pass summaries are posted.
func (s *Service) WithNotifier(n notify.Notifier) *Service {
	if n == nil {
		n = notify.Noop{}
	}
	s.notifier = n
	return s
}

// WithMetrics attaches the missed-call queue gauge.
func (s *Service) WithMetrics(m metrics.Sink) *Service {
	s.sizer = m
	s.queue.WithMetrics(m)
	return s
}

// Ledger returns the contact ledger the service dispatches from.
func (s *Service) Ledger() *ledger.Store { return s.ledger }

// Missed returns the stored missed-call entries.
func (s *Service) Missed(ctx context.Context) ([]models.MissedCall, error) {
	return s.missed.Load(ctx)
}

// ReplaceContacts swaps the ledger for a newly imported dataset. It takes
// the pass lock so a running pass never sees its contacts replaced.
func (s *Service) ReplaceContacts(ctx context.Context, contacts []models.Contact) error {
	return s.withLock(ctx, KindImport, func(ctx context.Context) error {
		return s.ledger.Save(ctx, contacts)
	})
}

// TriggerCalls calls every eligible contact. Failed placements overwrite the
// missed-call list; a pass with no failures leaves the list untouched.
func (s *Service) TriggerCalls(ctx context.Context, baseURL string) (dispatch.Report, error) {
	if _, err := s.dispatcher.Validate(baseURL); err != nil {
		return dispatch.Report{}, err
	}

	var report dispatch.Report
	err := s.withLock(ctx, metrics.KindDispatch, func(ctx context.Context) error {
		contacts, err := s.ledger.Load(ctx)
		if err != nil {
			return err
		}
		var passErr error
		report, passErr = s.dispatcher.Dispatch(ctx, contacts, baseURL)
		if report.Failed > 0 {
			entries := retry.FromReport(report)
			if err := s.missed.Replace(context.WithoutCancel(ctx), entries); err != nil {
				return errors.Join(passErr, err)
			}
			log.Printf("campaign: %d missed calls saved for retry", len(entries))
			if s.sizer != nil {
				s.sizer.MissedQueueSize(len(entries))
			}
		}
		if report.PassID != "" {
			s.notify(ctx, metrics.KindDispatch, report)
		}
		return passErr
	})
	return report, err
}

// RetryMissed calls every entry of the missed-call list again.
func (s *Service) RetryMissed(ctx context.Context, baseURL string) (dispatch.Report, error) {
	if _, err := s.dispatcher.Validate(baseURL); err != nil {
		return dispatch.Report{}, err
	}

	var report dispatch.Report
	err := s.withLock(ctx, metrics.KindRetry, func(ctx context.Context) error {
		var passErr error
		report, passErr = s.queue.Retry(ctx, baseURL)
		if report.PassID != "" {
			s.notify(ctx, metrics.KindRetry, report)
		}
		return passErr
	})
	return report, err
}

// RunSchedule runs a retry pass at every fire time of expr until ctx is
// done. A fire time that finds another pass running is skipped.
func (s *Service) RunSchedule(ctx context.Context, expr, baseURL string) error {
	log.Printf("campaign: scheduled retries enabled (%s)", expr)
	return retry.Schedule(ctx, expr, func(ctx context.Context) {
		ok, err := s.missed.Exists(ctx)
		if err != nil {
			log.Printf("campaign: scheduled retry: %v", err)
			return
		}
		if !ok {
			return
		}
		report, err := s.RetryMissed(ctx, baseURL)
		switch {
		case errors.Is(err, lock.ErrPassActive):
			log.Printf("campaign: scheduled retry skipped: %v", err)
		case err != nil:
			log.Printf("campaign: scheduled retry: %v", err)
		default:
			log.Printf("campaign: scheduled retry: %d successful, %d failed", report.Successful, report.Failed)
		}
	})
}

func (s *Service) withLock(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	session, err := lock.Acquire(s.db, kind, s.opts.Holder, s.opts.LockTimeout)
	if err != nil {
		return err
	}
	stop := lock.StartHeartbeat(ctx, s.db, session.ID, s.opts.HeartbeatInterval)
	defer func() {
		stop()
		if err := lock.Release(s.db, session.ID); err != nil {
			log.Printf("campaign: %v", err)
		}
	}()
	return fn(ctx)
}

func (s *Service) notify(ctx context.Context, kind string, report dispatch.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.Send(ctx, notify.FormatPass(kind, report)); err != nil {
		log.Printf("campaign: notify %s pass %s: %v", kind, report.PassID, err)
	}
}

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dropline"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
