package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/contact-enricher/internal/app"
	"github.com/shpitdev/contact-enricher/internal/config"
	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/kv"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/lookup/fallback"
	"github.com/shpitdev/contact-enricher/internal/lookup/gemini"
	"github.com/shpitdev/contact-enricher/internal/scheduler"
	"github.com/shpitdev/contact-enricher/internal/settings"
	"github.com/shpitdev/contact-enricher/internal/sheet"
)

// openStore opens the configured settings store. The returned close func is never nil.
func openStore(ctx context.Context, c *config.Config) (kv.Store, func(), error) {
	path := strings.TrimSpace(c.Store.Path)
	if path == "" {
		return kv.NewMemory(), func() {}, nil
	}
	db, err := kv.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// buildGateway returns the provider configured as primary, or the offline stub.
func buildGateway(c *config.Config, st *settings.Settings, offline bool) (lookup.Gateway, func(), error) {
	if offline {
		return lookup.Stub{}, func() {}, nil
	}
	primary, err := gemini.New(st, gemini.Config{
		Model:   c.Lookup.Gemini.Model,
		BaseURL: c.Lookup.Gemini.BaseURL,
	})
	if err != nil {
		return nil, nil, err
	}
	fb, err := fallback.New(st, fallback.Config{
		Model:       c.Lookup.Fallback.Model,
		Temperature: c.Lookup.Fallback.Temperature,
	})
	if err != nil {
		return nil, nil, err
	}
	gw, err := lookup.Select(c.Lookup.Primary, map[string]lookup.Gateway{
		lookup.ProviderPrimary:  primary,
		lookup.ProviderFallback: fb,
	})
	if err != nil {
		_ = fb.Close()
		return nil, nil, err
	}
	return gw, func() { _ = fb.Close() }, nil
}

// openSession wires a Session from the loaded configuration.
func openSession(ctx context.Context, progress io.Writer) (*app.Session, func(), error) {
	if progress == nil {
		progress = os.Stderr
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open store")
	}

	st := settings.New(store)
	if err := st.Load(ctx, cfg.Lookup.APIKey); err != nil {
		closeStore()
		return nil, nil, err
	}

	gw, closeGateway, err := buildGateway(cfg, st, offline)
	if err != nil {
		closeStore()
		return nil, nil, eris.Wrap(err, "build gateway")
	}

	monitor := scheduler.NewMonitor(nil, func() {
		_, _ = fmt.Fprintln(progress, "warning: the daily lookup quota is likely exhausted; try again tomorrow")
	})

	s, err := app.New(app.Options{
		Store:    store,
		Settings: st,
		Source:   sheet.AutoSource{HTTP: sheet.NewHTTPSource(cfg.Source.Timeout)},
		Gateway:  gw,
		Scheduler: scheduler.Options{
			BatchSize:      cfg.Scheduler.BatchSize,
			PaceInterval:   cfg.Scheduler.PaceInterval,
			RequestTimeout: cfg.Scheduler.RequestTimeout,
			Monitor:        monitor,
			Observer:       progressPrinter(progress),
		},
		Logger: zap.L(),
	})
	if err != nil {
		closeGateway()
		closeStore()
		return nil, nil, err
	}
	return s, func() {
		closeGateway()
		closeStore()
	}, nil
}

func progressPrinter(w io.Writer) scheduler.Observer {
	return func(records []contact.Record) {
		counts := contact.Counts(records)
		done := counts[contact.StatusFound] + counts[contact.StatusNotFound] + counts[contact.StatusError]
		_, _ = fmt.Fprintf(w, "progress: %d/%d done (found=%d not_found=%d error=%d in_progress=%d)\n",
			done, len(records),
			counts[contact.StatusFound],
			counts[contact.StatusNotFound],
			counts[contact.StatusError],
			counts[contact.StatusInProgress],
		)
	}
}
