// Command importctl checks product import files offline and writes templates.
//
// Usage:
//
//	importctl check [-charset label] [-catalog-id n] [-partial] [-o findings.csv] <file>
//	importctl template [-format csv|xlsx] [-o file]
//
// check runs the complete import pipeline against an in-memory catalog, so a
// file can be validated without a database. Findings go to stdout (or -o) as
// CSV and a summary goes to stderr. The exit status is 1 when the run fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/productimport/internal/core"
	"github.com/JonMunkholm/productimport/internal/logging"
	"github.com/JonMunkholm/productimport/internal/memstore"
	"github.com/JonMunkholm/productimport/internal/queue"
)

// errRunFailed makes main exit non-zero without printing another message.
var errRunFailed = errors.New("import run failed")

func main() {
	godotenv.Load()
	logging.Setup(envOr("LOG_LEVEL", "warn"), envOr("LOG_FORMAT", "text"))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:], os.Stdout, os.Stderr)
	case "template":
		err = runTemplate(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if errors.Is(err, errRunFailed) {
		os.Exit(1)
	}
	if err != nil {
		msg := err.Error()
		if core.IsUserFacing(err) {
			msg = core.FormatUserError(err)
		}
		fmt.Fprintf(os.Stderr, "importctl: %s\n", msg)
		slog.Debug("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage:
  importctl check [-charset label] [-catalog-id n] [-partial] [-o findings.csv] <file>
  importctl template [-format csv|xlsx] [-o file]
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// output opens path for writing, or returns def when path is empty.
func output(path string, def io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return def, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func runCheck(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	charset := fs.String("charset", "", "source encoding label (default utf-8)")
	catalogID := fs.Int64("catalog-id", 0, "catalog for rows without catalog columns")
	partial := fs.Bool("partial", false, "treat a run with failed rows as completed")
	out := fs.String("o", "", "write findings CSV to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("check needs exactly one file, got %d", fs.NArg())
	}
	path := fs.Arg(0)

	tmp, err := os.MkdirTemp("", "importctl-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	store := memstore.New()
	q := queue.NewMemory(1)
	svc, err := core.NewService(store, q, q, core.Options{
		TempDir:                 tmp,
		PartialSuccessCompletes: *partial,
	})
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	req := core.SubmitRequest{FileName: filepath.Base(path), Charset: *charset, Body: f}
	if *catalogID > 0 {
		req.CatalogID = catalogID
	}

	ctx := context.Background()
	job, err := svc.Submit(ctx, req)
	if err != nil {
		return err
	}
	if err := svc.Run(ctx, job.ID); err != nil {
		return err
	}
	if job, err = svc.Job(ctx, job.ID); err != nil {
		return err
	}

	page, err := svc.Findings(ctx, job.ID, core.FindingQuery{})
	if err != nil {
		return err
	}

	w, closeOut, err := output(*out, stdout)
	if err != nil {
		return err
	}
	if err := core.WriteFindingsCSV(w, page.Findings); err != nil {
		closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%s: %s, %d rows, %d valid, %d failed, %d findings\n",
		job.FileName, job.Status, job.Total, job.Success, job.Failed, page.Total)
	if job.LastError != "" {
		fmt.Fprintf(stderr, "error: %s\n", job.LastError)
	}

	if job.Status != core.StatusCompleted {
		return errRunFailed
	}
	return nil
}

func runTemplate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("template", flag.ContinueOnError)
	format := fs.String("format", "csv", "csv or xlsx")
	out := fs.String("o", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := core.Format(*format)
	if f != core.FormatCSV && f != core.FormatXLSX {
		return fmt.Errorf("%w %q", core.ErrUnsupportedFormat, *format)
	}

	tmpl, err := core.BuildTemplate(context.Background(), memstore.New(), nil, nil)
	if err != nil {
		return err
	}

	w, closeOut, err := output(*out, stdout)
	if err != nil {
		return err
	}
	if err := tmpl.Write(w, f); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}
