package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/contact-enricher/internal/cache"
	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/kv"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/redact"
	"github.com/shpitdev/contact-enricher/internal/scheduler"
	"github.com/shpitdev/contact-enricher/internal/settings"
	"github.com/shpitdev/contact-enricher/internal/sheet"
)

var (
	// ErrNoSource means no locator was given and none was remembered.
	ErrNoSource = errors.New("app: no source locator")
	// ErrNoRecords means the session has nothing loaded.
	ErrNoRecords = errors.New("app: no records loaded")
	// ErrRecordBusy means the record is being looked up.
	ErrRecordBusy = errors.New("app: record is in progress")
	// ErrUnknownRecord means no record has the given ID.
	ErrUnknownRecord = errors.New("app: unknown record")
)

type Options struct {
	Store    kv.Store
	Settings *settings.Settings
	Source   sheet.Source
	Gateway  lookup.Gateway

	Scheduler scheduler.Options
	Logger    *zap.Logger
}

// Session owns the working set for one user session: the imported records
// merged with the enrichment cache.
type Session struct {
	settings *settings.Settings
	cache    *cache.Cache
	source   sheet.Source
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	progress scheduler.Observer

	mu      sync.Mutex
	records []contact.Record
	// view is the last published snapshot while a run owns records.
	view    []contact.Record
	running bool
}

// New builds a Session. Settings is created from Store when nil.
func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, eris.New("app: store is required")
	}
	if opts.Gateway == nil {
		return nil, eris.New("app: gateway is required")
	}
	if opts.Settings == nil {
		opts.Settings = settings.New(opts.Store)
	}
	if opts.Source == nil {
		opts.Source = sheet.AutoSource{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	s := &Session{
		settings: opts.Settings,
		cache:    cache.New(opts.Store),
		source:   opts.Source,
		logger:   opts.Logger,
		progress: opts.Scheduler.Observer,
	}
	schedOpts := opts.Scheduler
	schedOpts.Observer = s.publish
	if schedOpts.Logger == nil {
		schedOpts.Logger = opts.Logger
	}
	if schedOpts.Monitor == nil {
		schedOpts.Monitor = scheduler.NewMonitor(nil, nil)
	}
	// Stops are counted across invocations, not per process.
	schedOpts.Monitor.Persist(opts.Settings)
	gw := lookup.NewTraced(opts.Gateway, opts.Logger)
	s.sched = scheduler.New(gw, s.cache, s.settings, schedOpts)
	return s, nil
}

// Settings returns the session configuration object.
func (s *Session) Settings() *settings.Settings {
	return s.settings
}

// Monitor returns the rate-limit monitor, backed by the settings store.
func (s *Session) Monitor() *scheduler.Monitor {
	return s.sched.Monitor()
}

// LoadSummary describes the result of Load.
type LoadSummary struct {
	Locator string
	Records int
	// Cached records carried a prior result from the enrichment cache.
	Cached  int
	Pending int
}

// Load fetches and imports locator, merges the enrichment cache into the
// result, and makes it the working set. An empty locator reuses the last one.
func (s *Session) Load(ctx context.Context, locator string) (LoadSummary, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		prev, err := s.settings.SourceLocator(ctx)
		if err != nil {
			return LoadSummary{}, err
		}
		locator = prev
	}
	if locator == "" {
		return LoadSummary{}, ErrNoSource
	}
	if s.isRunning() {
		return LoadSummary{}, scheduler.ErrRunInProgress
	}

	start := time.Now()
	doc, err := s.source.Fetch(ctx, locator)
	if err != nil {
		return LoadSummary{}, err
	}
	imported, err := sheet.Parse(doc)
	if err != nil {
		return LoadSummary{}, err
	}
	prior, err := s.cache.Load(ctx)
	if err != nil {
		return LoadSummary{}, err
	}
	merged := cache.Merge(imported, prior)

	sum := LoadSummary{Locator: locator, Records: len(merged)}
	for _, r := range merged {
		if r.Status != contact.StatusIdle {
			sum.Cached++
		}
		if r.Eligible() {
			sum.Pending++
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return LoadSummary{}, scheduler.ErrRunInProgress
	}
	s.records = merged
	s.mu.Unlock()

	if err := s.settings.SetSourceLocator(ctx, locator); err != nil {
		return sum, err
	}
	if err := s.cache.SaveRecords(ctx, merged); err != nil {
		return sum, err
	}
	s.logger.Info("session: loaded",
		zap.String("source", redact.Secrets(locator)),
		zap.Int("records", sum.Records),
		zap.Int("cached", sum.Cached),
		zap.Int("pending", sum.Pending),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return sum, nil
}

// Records returns a copy of the working set.
func (s *Session) Records() []contact.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.view != nil {
		return contact.Clone(s.view)
	}
	return contact.Clone(s.records)
}

// Run enriches every eligible record.
func (s *Session) Run(ctx context.Context) (scheduler.Report, error) {
	work, err := s.acquire()
	if err != nil {
		return scheduler.Report{}, err
	}
	defer s.release()

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID))
	log.Info("session: run start", zap.Int("records", len(work)))

	rep, err := s.sched.Run(ctx, work)
	if err != nil {
		log.Error("session: run failed", zap.Stringer("outcome", rep.Outcome), zap.Error(err))
		return rep, err
	}
	log.Info("session: run finished",
		zap.Stringer("outcome", rep.Outcome),
		zap.Int("batches", rep.Batches),
		zap.Stringer("fatal", rep.Fatal),
		zap.Bool("quota_exhausted", rep.QuotaExhausted),
	)
	return rep, nil
}

// LookupOne runs a manual lookup for a single record.
func (s *Session) LookupOne(ctx context.Context, id int) (contact.Record, error) {
	work, err := s.acquire()
	if err != nil {
		return contact.Record{}, err
	}
	defer s.release()

	idx := indexOf(work, id)
	if idx < 0 {
		return contact.Record{}, eris.Wrapf(ErrUnknownRecord, "app: lookup %d", id)
	}
	if work[idx].Status == contact.StatusInProgress {
		return contact.Record{}, ErrRecordBusy
	}
	if _, err := s.sched.LookupOne(ctx, work, id); err != nil {
		return work[idx], err
	}
	return work[idx], nil
}

// Patch is a manual correction. Nil fields are left unchanged.
type Patch struct {
	City     *string
	JobTitle *string
}

// Edit applies a manual correction to one record and persists the cache.
//
// A non-empty city marks the record found; clearing the city makes it idle and
// eligible again.
func (s *Session) Edit(ctx context.Context, id int, p Patch) (contact.Record, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return contact.Record{}, scheduler.ErrRunInProgress
	}
	idx := indexOf(s.records, id)
	if idx < 0 {
		s.mu.Unlock()
		return contact.Record{}, eris.Wrapf(ErrUnknownRecord, "app: edit %d", id)
	}
	r := &s.records[idx]
	if r.Status == contact.StatusInProgress {
		s.mu.Unlock()
		return contact.Record{}, ErrRecordBusy
	}
	if p.JobTitle != nil {
		r.JobTitle = strings.TrimSpace(*p.JobTitle)
	}
	if p.City != nil {
		r.City = strings.TrimSpace(*p.City)
		r.Detail = ""
		if r.City == "" {
			r.Status = contact.StatusIdle
		} else {
			r.Status = contact.StatusFound
		}
	}
	out := *r
	snapshot := contact.Clone(s.records)
	s.mu.Unlock()

	if err := s.cache.SaveRecords(ctx, snapshot); err != nil {
		return out, err
	}
	return out, nil
}

// Export writes the working set in the import format.
func (s *Session) Export(w io.Writer) error {
	return sheet.Write(w, s.Records())
}

// SetCredential stores a new API credential.
func (s *Session) SetCredential(ctx context.Context, key string) error {
	return s.settings.SetCredential(ctx, key)
}

// ResetSettings clears the credential, the remembered source and the
// enrichment cache. The working set is kept.
func (s *Session) ResetSettings(ctx context.Context) error {
	if s.isRunning() {
		return scheduler.ErrRunInProgress
	}
	if err := s.settings.Reset(ctx); err != nil {
		return err
	}
	s.sched.Monitor().Forget()
	s.logger.Info("session: settings reset")
	return nil
}

func (s *Session) acquire() ([]contact.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, scheduler.ErrRunInProgress
	}
	if len(s.records) == 0 {
		return nil, ErrNoRecords
	}
	s.running = true
	s.view = contact.Clone(s.records)
	return s.records, nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.running = false
	s.view = nil
	s.mu.Unlock()
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// publish receives scheduler snapshots.
func (s *Session) publish(records []contact.Record) {
	s.mu.Lock()
	s.view = records
	s.mu.Unlock()
	if s.progress != nil {
		s.progress(contact.Clone(records))
	}
}

func indexOf(records []contact.Record, id int) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
