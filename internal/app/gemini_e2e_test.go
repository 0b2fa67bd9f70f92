//go:build gemini_e2e

package app_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/shpitdev/contact-enricher/internal/app"
	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/kv"
	"github.com/shpitdev/contact-enricher/internal/lookup/fallback"
	"github.com/shpitdev/contact-enricher/internal/lookup/gemini"
	"github.com/shpitdev/contact-enricher/internal/scheduler"
	"github.com/shpitdev/contact-enricher/internal/settings"
	"github.com/shpitdev/contact-enricher/internal/sheet"
)

func TestSession_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.5-flash"
	}

	ctx := context.Background()

	// Well-known public figures only; we just validate API/tooling assumptions.
	in := "First Name,Last Name,Job Title,Company\n" +
		"Sundar,Pichai,,Google\n" +
		"Satya,Nadella,,Microsoft\n"

	run := func(t *testing.T, provider string) {
		t.Helper()

		store := kv.NewMemory()
		st := settings.New(store)
		if err := st.Load(ctx, apiKey); err != nil {
			t.Fatalf("load settings: %v", err)
		}

		var gw interface {
			Name() string
		}
		opts := app.Options{
			Store:    store,
			Settings: st,
			Source:   staticSource{"e2e": in},
			Scheduler: scheduler.Options{
				BatchSize:      5,
				PaceInterval:   time.Second,
				RequestTimeout: 90 * time.Second,
			},
		}
		switch provider {
		case "primary":
			p, err := gemini.New(st, gemini.Config{Model: model, BaseURL: os.Getenv("GEMINI_BASE_URL")})
			if err != nil {
				t.Fatalf("create primary provider: %v", err)
			}
			opts.Gateway, gw = p, p
		default:
			p, err := fallback.New(st, fallback.Config{Model: model, Temperature: 0.1})
			if err != nil {
				t.Fatalf("create fallback provider: %v", err)
			}
			defer p.Close()
			opts.Gateway, gw = p, p
		}
		t.Logf("provider=%s", gw.Name())

		s, err := app.New(opts)
		if err != nil {
			t.Fatalf("new session: %v", err)
		}
		if _, err := s.Load(ctx, "e2e"); err != nil {
			t.Fatalf("load: %v", err)
		}
		rep, err := s.Run(ctx)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if rep.Outcome != scheduler.Completed {
			t.Fatalf("outcome=%s fatal=%s", rep.Outcome, rep.Fatal)
		}
		for _, r := range s.Records() {
			if r.Status == contact.StatusIdle || r.Status == contact.StatusInProgress {
				t.Fatalf("record %d left in %s", r.ID, r.Status)
			}
		}

		var buf bytes.Buffer
		if err := s.Export(&buf); err != nil {
			t.Fatalf("export: %v", err)
		}
		rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
		if err != nil {
			t.Fatalf("parse export: %v", err)
		}
		if len(rows) != 1+2 {
			t.Fatalf("expected header + 2 rows, got %d", len(rows))
		}
		want := sheet.ExportHeader()
		for i := range want {
			if rows[0][i] != want[i] {
				t.Fatalf("header[%d]: want %q got %q", i, want[i], rows[0][i])
			}
		}
	}

	t.Run("Primary", func(t *testing.T) { run(t, "primary") })
	t.Run("Fallback", func(t *testing.T) { run(t, "fallback") })
}
