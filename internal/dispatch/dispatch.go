// Package dispatch delivers domain events to registered webhooks. Every
// publish is appended to the ledger's event log first; matching active
// registrations each get a delivery record and an asynchronous, signed,
// retried HTTP POST. The triggering request never waits on delivery.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"issuelab/internal/domain"
	"issuelab/internal/ledger"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultJitterMin = 50 * time.Millisecond
	defaultJitterMax = 250 * time.Millisecond
	sendTimeout      = 1500 * time.Millisecond
	maxAttempts      = 3
)

// backoffSchedule is the fixed inter-attempt delay policy. Attempt n
// (1-based) sleeps backoffSchedule[n-1] before retrying.
var backoffSchedule = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

type outcomeKind int

const (
	outcomeDelivered outcomeKind = iota
	outcomeRetryable
	outcomeTerminal
)

// attemptOutcome is the result of one HTTP attempt as a plain value, so
// the retry loop can be driven and tested without exceptions or panics.
type attemptOutcome struct {
	kind       outcomeKind
	statusCode int // 0 on transport error
}

type job struct {
	rec   domain.DeliveryRecord
	force bool
}

// Options configures a Dispatcher. Zero values fall back to defaults;
// the clock, sleeper and random source hooks exist so tests can run the
// whole retry pipeline deterministically.
type Options struct {
	Workers       int
	QueueSize     int
	JitterMin     time.Duration
	JitterMax     time.Duration
	DedupCapacity int
	Client        *http.Client
	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	RandInt63n    func(n int64) int64
	Logger        *log.Logger
}

// Dispatcher owns the delivery worker pool.
type Dispatcher struct {
	ledger *ledger.Ledger
	client *http.Client
	queue  chan job

	mu        sync.Mutex
	jitterMin time.Duration
	jitterMax time.Duration
	seen      *dedupeWindow

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	randInt63n func(n int64) int64
	logger     *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Dispatcher over the given ledger. Call Start before
// publishing and Close on shutdown.
func New(l *ledger.Ledger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.JitterMin <= 0 {
		opts.JitterMin = defaultJitterMin
	}
	if opts.JitterMax < opts.JitterMin {
		opts.JitterMax = defaultJitterMax
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: sendTimeout}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if opts.RandInt63n == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		var rngMu sync.Mutex
		opts.RandInt63n = func(n int64) int64 {
			rngMu.Lock()
			defer rngMu.Unlock()
			return rng.Int63n(n)
		}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	d := &Dispatcher{
		ledger:     l,
		client:     opts.Client,
		queue:      make(chan job, opts.QueueSize),
		jitterMin:  opts.JitterMin,
		jitterMax:  opts.JitterMax,
		seen:       newDedupeWindow(opts.DedupCapacity),
		now:        opts.Now,
		sleep:      opts.Sleep,
		randInt63n: opts.RandInt63n,
		logger:     opts.Logger,
	}
	d.startWorkers(opts.Workers)
	return d
}

func (d *Dispatcher) startWorkers(n int) {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.deliver(ctx, j)
				}
			}
		}()
	}
}

// Close stops the workers. In-flight attempts are abandoned.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// SetJitterRange adjusts the pre-send delay bounds at runtime.
func (d *Dispatcher) SetJitterRange(min, max time.Duration) error {
	if min < 0 || max < min {
		return fmt.Errorf("invalid jitter range [%s, %s]", min, max)
	}
	d.mu.Lock()
	d.jitterMin, d.jitterMax = min, max
	d.mu.Unlock()
	return nil
}

// JitterRange returns the current pre-send delay bounds.
func (d *Dispatcher) JitterRange() (min, max time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jitterMin, d.jitterMax
}

// Publish appends evt to the event log, then creates and schedules one
// delivery per active registration subscribed to evt's type. The event
// is logged even when no registration matches.
func (d *Dispatcher) Publish(ctx context.Context, evt *domain.Event, regs []domain.WebhookRegistration) error {
	if err := d.ledger.AppendEvent(evt); err != nil {
		return err
	}
	for _, reg := range regs {
		if !reg.Active || !subscribed(reg.Events, evt.Type) {
			continue
		}
		now := d.now()
		rec := domain.DeliveryRecord{
			WebhookID: reg.ID,
			URL:       reg.URL,
			EventID:   evt.ID,
			EventType: evt.Type,
			Payload:   evt.Payload,
			Secret:    reg.Secret,
			Status:    domain.DeliveryPending,
			Created:   now,
			Updated:   now,
		}
		if err := d.ledger.InsertDelivery(&rec); err != nil {
			return err
		}
		d.enqueue(ctx, job{rec: rec})
	}
	return nil
}

// Replay schedules a fresh delivery from the snapshot held by an
// existing record. The new attempt bypasses deduplication and reuses the
// recorded payload, secret and URL, so the wire body and signature are
// byte-identical to the original no matter what happened to the
// registration since.
func (d *Dispatcher) Replay(ctx context.Context, deliveryID int64) (domain.DeliveryRecord, error) {
	orig, err := d.ledger.GetDelivery(deliveryID)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	now := d.now()
	rec := domain.DeliveryRecord{
		WebhookID: orig.WebhookID,
		URL:       orig.URL,
		EventID:   orig.EventID,
		EventType: orig.EventType,
		Payload:   orig.Payload,
		Secret:    orig.Secret,
		Status:    domain.DeliveryPending,
		Created:   now,
		Updated:   now,
	}
	if err := d.ledger.InsertDelivery(&rec); err != nil {
		return domain.DeliveryRecord{}, err
	}
	d.enqueue(ctx, job{rec: rec, force: true})
	return rec, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) {
	select {
	case d.queue <- j:
	case <-ctx.Done():
		j.rec.Status = domain.DeliveryFailed
		j.rec.Updated = d.now()
		if err := d.ledger.UpdateDelivery(&j.rec); err != nil {
			d.logger.Printf("dispatch: abandon delivery %d: %v", j.rec.ID, err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	rec := j.rec
	key := fmt.Sprintf("%d|%s", rec.WebhookID, rec.EventID)

	d.mu.Lock()
	dup := d.seen.Seen(key)
	jitter := d.jitterMin
	if span := int64(d.jitterMax-d.jitterMin) + 1; span > 1 {
		jitter += time.Duration(d.randInt63n(span))
	}
	d.mu.Unlock()

	if dup && !j.force {
		rec.Status = domain.DeliveryDuplicate
		rec.Updated = d.now()
		d.update(&rec)
		return
	}

	if err := d.sleep(ctx, jitter); err != nil {
		return
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, backoffSchedule[attempt-1]); err != nil {
				return
			}
		}
		out := d.attempt(ctx, rec)
		rec.Attempts++
		rec.LastStatusCode = out.statusCode
		rec.Updated = d.now()
		switch out.kind {
		case outcomeDelivered:
			rec.Status = domain.DeliveryDelivered
			d.update(&rec)
			return
		case outcomeTerminal:
			rec.Status = domain.DeliveryFailed
			d.update(&rec)
			return
		default:
			rec.Status = domain.DeliveryRetrying
			d.update(&rec)
		}
	}
	rec.Status = domain.DeliveryFailed
	rec.Updated = d.now()
	d.update(&rec)
}

func (d *Dispatcher) attempt(ctx context.Context, rec domain.DeliveryRecord) attemptOutcome {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.URL, bytes.NewReader(rec.Payload))
	if err != nil {
		return attemptOutcome{kind: outcomeTerminal}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", rec.EventID)
	req.Header.Set("X-Event-Type", shortEventType(rec.EventType))
	if rec.Secret != "" {
		req.Header.Set("X-Signature", Signature(rec.Secret, rec.Payload))
	}

	res, err := d.client.Do(req)
	if err != nil {
		d.logger.Printf("dispatch: post %s: %v", rec.URL, err)
		return attemptOutcome{kind: outcomeRetryable}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode < 400:
		return attemptOutcome{kind: outcomeDelivered, statusCode: res.StatusCode}
	case res.StatusCode >= 500:
		return attemptOutcome{kind: outcomeRetryable, statusCode: res.StatusCode}
	default:
		return attemptOutcome{kind: outcomeTerminal, statusCode: res.StatusCode}
	}
}

func (d *Dispatcher) update(rec *domain.DeliveryRecord) {
	if err := d.ledger.UpdateDelivery(rec); err != nil {
		d.logger.Printf("dispatch: record delivery %d: %v", rec.ID, err)
	}
}

// shortEventType strips the namespace prefix, if any:
// "jira:issue_created" becomes "issue_created".
func shortEventType(t string) string {
	if i := strings.Index(t, ":"); i >= 0 {
		return t[i+1:]
	}
	return t
}

func subscribed(events []string, eventType string) bool {
	for _, e := range events {
		if e == eventType {
			return true
		}
	}
	return false
}
