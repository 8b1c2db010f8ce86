package retry

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/metrics"
	"github.com/zulandar/dropline/internal/models"
)

// Ledger resolves a missed-call entry to the contact it now belongs to.
type Ledger interface {
	FindByMobile(ctx context.Context, number string) (*models.Contact, bool, error)
}

// QueueSizer receives the missed-call list size after each retry pass.
type QueueSizer interface {
	MissedQueueSize(n int)
}

// Queue runs retry passes over the stored missed-call list.
type Queue struct {
	store      *Store
	ledger     Ledger
	dispatcher *dispatch.Dispatcher
	sizer      QueueSizer // optional
}

// NewQueue creates a Queue.
func NewQueue(store *Store, ledger Ledger, d *dispatch.Dispatcher) *Queue {
	return &Queue{store: store, ledger: ledger, dispatcher: d}
}

// WithMetrics attaches a queue size gauge.
func (q *Queue) WithMetrics(s QueueSizer) *Queue {
	q.sizer = s
	return q
}

// Retry calls every stored entry again, matching each to a contact by
// mobile number. Successes leave the list and failures stay. Entries whose
// number is no longer in the ledger are skipped and kept; entries whose
// contact has since answered are dropped without a call. When nothing is
// retained the list is cleared.
func (q *Queue) Retry(ctx context.Context, baseURL string) (dispatch.Report, error) {
	entries, err := q.store.Load(ctx)
	if err != nil {
		return dispatch.Report{}, err
	}
	if len(entries) == 0 {
		log.Printf("retry: no missed calls to retry")
		return dispatch.NewReport(""), nil
	}

	pass, err := q.dispatcher.Begin(metrics.KindRetry, baseURL)
	if err != nil {
		return dispatch.Report{}, err
	}
	report := dispatch.NewReport(pass.ID)
	defer func() { pass.Finish(report) }()

	var retained []models.MissedCall
	var stopErr error
	for i, e := range entries {
		c, ok, err := q.ledger.FindByMobile(ctx, e.MobileNumber)
		if err != nil {
			return report, fmt.Errorf("retry: resolve %s: %w", e.MobileNumber, err)
		}
		if !ok {
			log.Printf("retry: number %s not found in ledger, skipping", e.MobileNumber)
			report.Skipped++
			retained = append(retained, e)
			continue
		}
		if !c.Eligible() {
			log.Printf("retry: %s (%s) already answered, dropping", c.Name, c.MobileNumber)
			report.Answered++
			continue
		}

		log.Printf("retry: calling %s (%s)", c.Name, c.MobileNumber)
		err = pass.Place(ctx, *c)
		switch {
		case err == nil:
			report.Successful++
		case dispatch.IsPlacementError(err):
			report.Fail(*c, err)
			e.Reason = err.Error()
			retained = append(retained, e)
		default:
			report.Status = dispatch.StatusStopped
			stopErr = fmt.Errorf("retry: pass %s stopped: %w", pass.ID, err)
			retained = append(retained, entries[i:]...)
		}
		if stopErr != nil {
			break
		}
	}

	log.Printf("retry: %d successful, %d failed, %d skipped", report.Successful, report.Failed, report.Skipped)
	if err := q.persist(context.WithoutCancel(ctx), retained); err != nil {
		return report, err
	}
	return report, stopErr
}

func (q *Queue) persist(ctx context.Context, retained []models.MissedCall) error {
	if len(retained) == 0 {
		log.Printf("retry: all missed calls resolved, clearing list")
		if err := q.store.Clear(ctx); err != nil {
			return err
		}
	} else if err := q.store.Replace(ctx, retained); err != nil {
		return err
	}
	if q.sizer != nil {
		q.sizer.MissedQueueSize(len(retained))
	}
	return nil
}
