package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/config"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

// runExtract prints the knowledge snapshot of a transcript given as
// arguments, or read from stdin when there are none. It needs no config.
func runExtract(_ context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	tags := fs.String("tags", "", "comma-separated keyword tags")
	fuzzy := fs.Bool("fuzzy", false, "match misheard genus names phonetically")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text := strings.Join(fs.Args(), " ")
	if fs.NArg() == 0 {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		text = string(b)
	}

	cfg := config.ExtractionConfig{
		FuzzyGenus:        *fuzzy,
		PhoneticThreshold: config.DefaultPhoneticThreshold,
		FuzzyThreshold:    config.DefaultFuzzyThreshold,
	}

	snap := newExtractor(cfg).Extract(strings.TrimSpace(text), splitTags(*tags)).Snapshot()
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// runPending lists the latest version of every recording not yet uploaded.
func runPending(ctx context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print revisions as JSON")
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	log, _ := newLogger(cfg.LogLevel)

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	revs, err := store.AllLatest(ctx, revision.NotUploaded)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if revs == nil {
			revs = []revision.AudioRevision{}
		}
		return enc.Encode(revs)
	}
	return writePending(stdout, revs)
}

func writePending(w io.Writer, revs []revision.AudioRevision) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tCREATED\tDURATION\tCRUMBS\tTRANSCRIPT")
	for _, r := range revs {
		text := r.Text()
		if runes := []rune(text); len(runes) > 40 {
			text = string(runes[:37]) + "..."
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n",
			r.ID, r.Version, r.Created.Format(time.RFC3339), r.Duration, len(r.Breadcrumbs), text)
	}
	return tw.Flush()
}
