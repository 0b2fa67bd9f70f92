package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

const (
	DefaultBatchSize    = 5
	DefaultPaceInterval = 10 * time.Second
)

// ErrRunInProgress is returned when Run or LookupOne is called while another
// call is still active.
var ErrRunInProgress = errors.New("scheduler: run in progress")

// ErrUnknownRecord is returned by LookupOne for an ID not in the working set.
var ErrUnknownRecord = errors.New("scheduler: unknown record")

// Store persists the working set after every batch.
type Store interface {
	SaveRecords(ctx context.Context, records []contact.Record) error
}

// CredentialResetter clears a credential the provider rejected.
type CredentialResetter interface {
	InvalidateCredential(ctx context.Context) error
}

// Observer receives a copy of the working set after each change.
type Observer func(records []contact.Record)

type Options struct {
	BatchSize    int
	PaceInterval time.Duration

	// RequestTimeout bounds a single gateway call. Zero means no timeout.
	RequestTimeout time.Duration

	// Limiter gates every gateway call. Defaults to one call per PaceInterval.
	Limiter *rate.Limiter

	// Sleep suspends between batches. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Observer Observer
	Monitor  *Monitor
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PaceInterval <= 0 {
		o.PaceInterval = DefaultPaceInterval
	}
	if o.RequestTimeout < 0 {
		o.RequestTimeout = 0
	}
	if o.Limiter == nil {
		o.Limiter = rate.NewLimiter(rate.Every(o.PaceInterval), 1)
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Monitor == nil {
		o.Monitor = NewMonitor(nil, nil)
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

// Outcome is how a run ended.
type Outcome int

const (
	Completed Outcome = iota
	StoppedFatal
	StoppedCancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case StoppedFatal:
		return "stopped_fatal"
	case StoppedCancelled:
		return "stopped_cancelled"
	}
	return "unknown"
}

type Report struct {
	Outcome  Outcome
	Eligible int
	Batches  int

	// Fatal is the classification that stopped the run, if any.
	Fatal lookup.ErrorKind

	// QuotaExhausted is set when the rate-limit monitor has raised its advisory.
	QuotaExhausted bool

	Counts   map[contact.Status]int
	Duration time.Duration
}

// Scheduler drives a Gateway over the working set in paced batches.
type Scheduler struct {
	gw    lookup.Gateway
	store Store
	creds CredentialResetter
	opts  Options

	running atomic.Bool
}

// New returns a Scheduler. store and creds may be nil.
func New(gw lookup.Gateway, store Store, creds CredentialResetter, opts Options) *Scheduler {
	return &Scheduler{
		gw:    gw,
		store: store,
		creds: creds,
		opts:  opts.withDefaults(),
	}
}

// Monitor returns the rate-limit monitor shared by all runs.
func (s *Scheduler) Monitor() *Monitor {
	return s.opts.Monitor
}

// Run enriches every eligible record in records, updating them in place.
//
// A fatal classification (InvalidCredential, RateLimited) or an unusable gateway
// stops the run; every record not yet processed ends as error/"Not Processed".
// The error return is reserved for an unusable gateway and cancellation.
func (s *Scheduler) Run(ctx context.Context, records []contact.Record) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	log := s.opts.Logger.With(zap.String("provider", s.gw.Name()))

	pending := contact.EligibleIndices(records)
	rep := Report{Eligible: len(pending)}
	finish := func(out Outcome) Report {
		rep.Outcome = out
		rep.Counts = contact.Counts(records)
		rep.QuotaExhausted = s.opts.Monitor.Exhausted()
		rep.Duration = time.Since(start)
		return rep
	}
	if len(pending) == 0 {
		log.Info("run: nothing to enrich", zap.Int("records", len(records)))
		return finish(Completed), nil
	}

	for _, i := range pending {
		records[i].Status = contact.StatusInProgress
		records[i].Detail = ""
	}
	s.persist(ctx, records)
	s.notify(records)

	batches := chunk(pending, s.opts.BatchSize)
	log.Info("run: start",
		zap.Int("records", len(records)),
		zap.Int("eligible", len(pending)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", s.opts.BatchSize),
		zap.Duration("pace_interval", s.opts.PaceInterval),
	)

	for bi, batch := range batches {
		if bi > 0 {
			if err := s.opts.Sleep(ctx, s.opts.PaceInterval); err != nil {
				s.abandon(ctx, records, batches[bi:])
				log.Warn("run: cancelled", zap.Int("batch", bi), zap.Error(err))
				return finish(StoppedCancelled), eris.Wrap(err, "scheduler: pace")
			}
		}

		recs := pick(records, batch)
		res, err := s.dispatch(ctx, recs)
		rep.Batches++
		if err != nil {
			s.abandon(ctx, records, batches[bi:])
			if ctx.Err() != nil {
				log.Warn("run: cancelled", zap.Int("batch", bi), zap.Error(err))
				return finish(StoppedCancelled), eris.Wrap(err, "scheduler: dispatch")
			}
			log.Error("run: gateway unavailable", zap.Int("batch", bi), zap.Error(err))
			return finish(StoppedFatal), eris.Wrapf(err, "scheduler: batch %d", bi)
		}

		fatal := s.applyBatch(ctx, records, batch, res)
		s.persist(ctx, records)
		s.notify(records)
		log.Debug("run: batch applied", zap.Int("batch", bi), zap.Int("records", len(batch)))

		if fatal != lookup.ErrorNone {
			rep.Fatal = fatal
			s.abandon(ctx, records, batches[bi+1:])
			log.Warn("run: stopped",
				zap.Int("batch", bi),
				zap.Stringer("kind", fatal),
				zap.Bool("quota_exhausted", s.opts.Monitor.Exhausted()),
			)
			return finish(StoppedFatal), nil
		}
	}

	rep = finish(Completed)
	log.Info("run: complete",
		zap.Int("batches", rep.Batches),
		zap.Int("found", rep.Counts[contact.StatusFound]),
		zap.Int("not_found", rep.Counts[contact.StatusNotFound]),
		zap.Int("error", rep.Counts[contact.StatusError]),
		zap.Duration("duration", rep.Duration.Round(time.Millisecond)),
	)
	return rep, nil
}

// LookupOne looks up a single record by ID through the same path as Run.
func (s *Scheduler) LookupOne(ctx context.Context, records []contact.Record, id int) (lookup.Outcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return lookup.Outcome{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return lookup.Outcome{}, eris.Wrapf(ErrUnknownRecord, "scheduler: lookup %d", id)
	}

	records[idx].Status = contact.StatusInProgress
	records[idx].Detail = ""
	s.notify(records)

	res, err := s.dispatch(ctx, pick(records, []int{idx}))
	if err != nil {
		s.abandon(ctx, records, [][]int{{idx}})
		return lookup.Outcome{}, eris.Wrapf(err, "scheduler: lookup %d", id)
	}
	s.applyBatch(ctx, records, []int{idx}, res)
	s.persist(ctx, records)
	s.notify(records)
	return res[id], nil
}

func (s *Scheduler) dispatch(ctx context.Context, batch []contact.Record) (lookup.Results, error) {
	if err := s.opts.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqCtx := ctx
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	res, err := s.gw.Lookup(reqCtx, batch)
	if err != nil {
		return nil, err
	}
	return lookup.Complete(batch, res), nil
}

// applyBatch applies outcomes in input order and returns the first fatal
// classification, or ErrorNone.
func (s *Scheduler) applyBatch(ctx context.Context, records []contact.Record, batch []int, res lookup.Results) lookup.ErrorKind {
	fatal := lookup.ErrorNone
	success := false
	for _, i := range batch {
		r := &records[i]
		o := res[r.ID]
		if fatal != lookup.ErrorNone && !o.Fatal() {
			markNotProcessed(r)
			continue
		}
		if o.Fatal() && fatal == lookup.ErrorNone {
			fatal = o.Error
		}
		if o.Kind == lookup.KindFound || o.Kind == lookup.KindNotFound {
			success = true
		}
		Apply(r, o)
	}

	bg := context.WithoutCancel(ctx)
	if success {
		s.opts.Monitor.Success(bg)
	}
	switch fatal {
	case lookup.RateLimited:
		if s.opts.Monitor.RateLimited(bg) {
			s.opts.Logger.Warn("daily quota likely exhausted",
				zap.Int("rate_limit_stops", s.opts.Monitor.Hits()),
			)
		}
	case lookup.InvalidCredential:
		if s.creds != nil {
			if err := s.creds.InvalidateCredential(ctx); err != nil {
				s.opts.Logger.Error("run: invalidate credential", zap.Error(err))
			}
		}
	}
	return fatal
}

// Apply writes a single outcome onto r.
func Apply(r *contact.Record, o lookup.Outcome) {
	switch o.Kind {
	case lookup.KindFound:
		city := o.City
		if city == "" || lookup.IsNotFoundToken(city) {
			r.City = contact.NotFoundCity
			r.Status = contact.StatusNotFound
			r.Detail = ""
			return
		}
		r.City = city
		if o.JobTitle != "" {
			r.JobTitle = o.JobTitle
		}
		r.Status = contact.StatusFound
		r.Detail = ""
	case lookup.KindNotFound:
		r.City = contact.NotFoundCity
		r.Status = contact.StatusNotFound
		r.Detail = ""
	default:
		r.Status = contact.StatusError
		r.Detail = redact.Truncate(o.Message, 300)
		switch o.Error {
		case lookup.InvalidCredential:
			r.City = contact.InvalidCredentialCity
		case lookup.RateLimited:
			r.City = contact.RateLimitedCity
		}
	}
}

func markNotProcessed(r *contact.Record) {
	r.Status = contact.StatusError
	r.City = contact.NotProcessedCity
	r.Detail = ""
}

// abandon marks every record in the given batches as not processed.
func (s *Scheduler) abandon(ctx context.Context, records []contact.Record, batches [][]int) {
	if len(batches) == 0 {
		return
	}
	for _, b := range batches {
		for _, i := range b {
			markNotProcessed(&records[i])
		}
	}
	s.persist(ctx, records)
	s.notify(records)
}

func (s *Scheduler) persist(ctx context.Context, records []contact.Record) {
	if s.store == nil {
		return
	}
	// Persist even when the run context is cancelled; the working set already changed.
	if err := s.store.SaveRecords(context.WithoutCancel(ctx), records); err != nil {
		s.opts.Logger.Error("run: save cache", zap.Error(err))
	}
}

func (s *Scheduler) notify(records []contact.Record) {
	if s.opts.Observer != nil {
		s.opts.Observer(contact.Clone(records))
	}
}

func chunk(idx []int, size int) [][]int {
	var out [][]int
	for len(idx) > 0 {
		n := min(size, len(idx))
		out = append(out, idx[:n])
		idx = idx[n:]
	}
	return out
}

func pick(records []contact.Record, idx []int) []contact.Record {
	out := make([]contact.Record, len(idx))
	for j, i := range idx {
		out[j] = records[i]
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
