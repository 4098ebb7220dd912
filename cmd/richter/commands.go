package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"richter/internal/calendar"
	"richter/internal/config"
	"richter/internal/failure"
	"richter/internal/ics"
	appLog "richter/internal/log"
	"richter/internal/smh"
	"richter/internal/snapshot"
	"richter/internal/web"
)

type app struct {
	cfg     *config.Config
	storage *calendar.Storage
	builder calendar.Builder
}

func newApp(flags flagConfig) (*app, error) {
	storage, err := calendar.Prepare(flags.dir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Debug("effective config",
		"api_base_url", cfg.APIBaseURL,
		"timeout_seconds", cfg.TimeoutSeconds,
		"fetch_concurrency", cfg.FetchConcurrency,
		"listen", cfg.Listen,
		"refresh", cfg.RefreshCron,
	)

	client := smh.NewClient(smh.Config{
		BaseURL:   cfg.APIBaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout(),
	})
	return &app{
		cfg:     cfg,
		storage: storage,
		builder: snapshot.NewBuilder(client, snapshot.WithConcurrency(cfg.FetchConcurrency)),
	}, nil
}

func (a *app) load(ctx context.Context, w io.Writer) error {
	cal, err := a.storage.Load(ctx, a.builder)
	if err != nil {
		return err
	}
	printEntries(w, cal)
	return nil
}

func (a *app) pull(ctx context.Context, w io.Writer) error {
	cal, err := a.storage.Pull(ctx, a.builder)
	if err != nil {
		return err
	}
	printSummary(w, cal)
	return nil
}

func (a *app) export(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", a.cfg.ExportPath, "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return failure.Wrap(failure.KindDeclaration, "Parsing Arguments", "Reading export flags", err)
	}

	cal, err := a.storage.Load(ctx, a.builder)
	if err != nil {
		return err
	}

	if *out == "" || *out == "-" {
		_, err := ics.Write(stdout, cal, time.Now())
		return failure.Within("Exporting Calendar", err)
	}

	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return failure.Wrap(failure.KindStorage, "Exporting Calendar", "Creating export file", err)
	}
	if _, err := ics.Write(f, cal, time.Now()); err != nil {
		f.Close()
		return failure.Within("Exporting Calendar", err)
	}
	if err := f.Close(); err != nil {
		return failure.Wrap(failure.KindStorage, "Exporting Calendar", "Closing export file", err)
	}
	appLog.Info("calendar written", "path", *out)
	return nil
}

func (a *app) serve(ctx context.Context) error {
	cal, err := a.storage.Load(ctx, a.builder)
	if err != nil {
		return err
	}

	srv := web.NewServer(a.cfg, cal, func(ctx context.Context) (*calendar.Calendar, error) {
		return a.storage.Pull(ctx, a.builder)
	})
	if _, err := srv.StartScheduler(ctx); err != nil {
		return failure.Wrap(failure.KindDeclaration, "Serving Calendar", "Scheduling refresh", err)
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return failure.Wrap(failure.KindStorage, "Serving Calendar", "Listening on "+a.cfg.Listen, err)
	}
	return nil
}

// printEntries lists every enrollment followed by its entries.
func printEntries(w io.Writer, cal *calendar.Calendar) {
	for _, e := range cal.Enrollments() {
		entries := cal.EntriesFor(e)
		fmt.Fprintf(w, "%s (%d entries)\n", e, len(entries))
		if len(entries) == 0 {
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, entry := range entries {
			due := entry.Due
			if d, err := ics.ParseDate(entry.Due); err == nil {
				due = d.Format("2006-01-02")
			}
			schoolID := e.SchoolID
			if schoolID == 0 {
				schoolID = entry.SchoolID
			}
			teacher := ""
			if emp, ok := cal.Employee(schoolID, entry.EmployeeID); ok {
				teacher = emp.DisplayName()
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", due, entry.SubjectName, entry.Title, teacher)
		}
		tw.Flush()
	}
}

// printSummary prints one line per enrollment and the cache build time.
func printSummary(w io.Writer, cal *calendar.Calendar) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENROLLMENT\tENTRIES")
	for _, e := range cal.Enrollments() {
		fmt.Fprintf(tw, "%s\t%d\n", e, len(cal.EntriesFor(e)))
	}
	tw.Flush()
	fmt.Fprintf(w, "cache built at %s\n", cal.Cache().BuiltAt.Format(time.RFC3339))
}
