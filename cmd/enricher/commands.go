package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shpitdev/contact-enricher/internal/app"
	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/scheduler"
)

var (
	outPath   string
	editCity  string
	editTitle string
)

var importCmd = &cobra.Command{
	Use:   "import [locator]",
	Short: "Import a contact sheet (CSV/XLSX file or Google Sheets URL) and show its state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		sum, err := s.Load(ctx, firstArg(args))
		if err != nil {
			return eris.Wrap(err, "import")
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "imported %d records from %s (%d cached, %d pending)\n",
			sum.Records, sum.Locator, sum.Cached, sum.Pending)
		return printRecords(cmd.OutOrStdout(), s.Records())
	},
}

var runCmd = &cobra.Command{
	Use:   "run [locator]",
	Short: "Import, enrich every pending record, and export the result",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		if _, err := s.Load(ctx, firstArg(args)); err != nil {
			return eris.Wrap(err, "import")
		}
		rep, runErr := s.Run(ctx)
		printReport(cmd.ErrOrStderr(), rep)

		if err := export(cmd, s); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run")
		}
		if rep.Outcome == scheduler.StoppedFatal {
			return eris.Errorf("run stopped: %s", rep.Fatal)
		}
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <id>",
	Short: "Look up a single record of the last imported sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid record id %q", args[0])
		}
		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		if _, err := s.Load(ctx, ""); err != nil {
			return eris.Wrap(err, "import")
		}
		r, err := s.LookupOne(ctx, id)
		if err != nil {
			return eris.Wrap(err, "lookup")
		}
		return printRecords(cmd.OutOrStdout(), []contact.Record{r})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Correct the city or job title of a record of the last imported sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid record id %q", args[0])
		}
		var p app.Patch
		if cmd.Flags().Changed("city") {
			p.City = &editCity
		}
		if cmd.Flags().Changed("title") {
			p.JobTitle = &editTitle
		}
		if p.City == nil && p.JobTitle == nil {
			return eris.New("edit requires --city and/or --title")
		}

		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		if _, err := s.Load(ctx, ""); err != nil {
			return eris.Wrap(err, "import")
		}
		r, err := s.Edit(ctx, id, p)
		if err != nil {
			return eris.Wrap(err, "edit")
		}
		return printRecords(cmd.OutOrStdout(), []contact.Record{r})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [locator]",
	Short: "Export the sheet merged with cached results",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, done, err := openSession(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer done()

		if _, err := s.Load(ctx, firstArg(args)); err != nil {
			return eris.Wrap(err, "import")
		}
		return export(cmd, s)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, exportCmd} {
		c.Flags().StringVarP(&outPath, "out", "o", "", "write the export to this file instead of stdout")
	}
	editCmd.Flags().StringVar(&editCity, "city", "", "new city; empty clears it and makes the record pending again")
	editCmd.Flags().StringVar(&editTitle, "title", "", "new job title")

	rootCmd.AddCommand(importCmd, runCmd, lookupCmd, editCmd, exportCmd)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func export(cmd *cobra.Command, s *app.Session) error {
	if outPath == "" {
		return eris.Wrap(s.Export(cmd.OutOrStdout()), "export")
	}
	f, err := os.Create(outPath)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := s.Export(f); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "export")
	}
	return eris.Wrap(f.Close(), "export: close file")
}

func printRecords(w io.Writer, records []contact.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tJOB TITLE\tCOMPANY\tCITY\tSTATUS")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.FullName(), r.JobTitle, r.Company, r.City, r.Status)
	}
	return tw.Flush()
}

func printReport(w io.Writer, rep scheduler.Report) {
	_, _ = fmt.Fprintf(w, "run %s: %d eligible, %d batches, found=%d not_found=%d error=%d\n",
		rep.Outcome, rep.Eligible, rep.Batches,
		rep.Counts[contact.StatusFound],
		rep.Counts[contact.StatusNotFound],
		rep.Counts[contact.StatusError],
	)
	switch rep.Fatal {
	case lookup.InvalidCredential:
		_, _ = fmt.Fprintln(w, "the API key was rejected and has been cleared; set a new one with `enricher credential set`")
	case lookup.RateLimited:
		_, _ = fmt.Fprintln(w, "the lookup service is rate limiting requests; run again later to retry the remaining records")
	}
	if rep.QuotaExhausted {
		_, _ = fmt.Fprintln(w, "the daily quota looks exhausted")
	}
}
