package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/knowledge"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/session"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/transcript"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/pkg/types"
)

// event is one line of record's input. Kind selects which fields apply:
//
//	{"kind":"segment","text":"standing water","confidence":0.92,"at":"2026-05-01T09:00:03Z"}
//	{"kind":"location","cell":"8928308280fffff","at":"2026-05-01T09:00:04Z"}
//	{"kind":"segment","final":true}
type event struct {
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Final      bool      `json:"final"`
	Cell       string    `json:"cell"`
	At         time.Time `json:"at"`
}

// recordOutput is what record prints once the recording is saved.
type recordOutput struct {
	Revision  revision.AudioRevision `json:"revision"`
	Knowledge knowledge.Snapshot     `json:"knowledge"`
}

// runRecord drives one recording session from JSON events on stdin: speech
// segments feed the transcript, location samples the breadcrumb trail. The
// recording is saved when the final segment arrives or stdin ends, an
// optional -amend edit is applied, and the result is printed as JSON.
func runRecord(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	amend := fs.String("amend", "", "replace the saved transcript with this text, creating version 2")
	tags := fs.String("tags", "", "comma-separated keyword tags for knowledge extraction")
	live := fs.Bool("live", false, "log the transcript as it grows")
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

	var bc transcript.Broadcaster
	defer bc.Close()
	if *live {
		updates, unsubscribe := bc.Subscribe()
		defer unsubscribe()
		go func() {
			for t := range updates {
				log.Info("transcript", "text", t)
			}
		}()
	}

	rec := session.New(store,
		session.WithExtractor(newExtractor(cfg.Extraction)),
		session.WithBroadcaster(&bc),
		session.WithLogger(log),
	)
	id, err := rec.Start()
	if err != nil {
		return err
	}
	log.Info("recording started", "id", id)

	segments := make(chan types.Segment)
	samples := make(chan types.LocationSample)
	feedErr := make(chan error, 1)
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	go func() { feedErr <- feed(feedCtx, stdin, segments, samples) }()

	if err := rec.Run(ctx, segments, samples); err != nil {
		_ = rec.Cancel()
		return fmt.Errorf("recording %s discarded: %w", id, err)
	}
	stopFeed()
	if err := <-feedErr; err != nil && !errors.Is(err, context.Canceled) {
		_ = rec.Cancel()
		return fmt.Errorf("recording %s discarded: %w", id, err)
	}

	saved, err := rec.Stop(ctx)
	if err != nil {
		return err
	}
	log.Info("recording saved", "id", saved.ID, "duration", saved.Duration, "breadcrumbs", len(saved.Breadcrumbs))

	if *amend != "" {
		if saved, err = rec.Amend(ctx, *amend); err != nil {
			return err
		}
		log.Info("transcript amended", "id", saved.ID, "version", saved.Version)
	}

	out := recordOutput{
		Revision:  saved,
		Knowledge: rec.Knowledge(splitTags(*tags)).Snapshot(),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// feed decodes events from r and delivers them in input order. It closes
// both channels when r is exhausted or ctx ends.
func feed(ctx context.Context, r io.Reader, segments chan<- types.Segment, samples chan<- types.LocationSample) error {
	defer close(segments)
	defer close(samples)

	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		var ev event
		if err := dec.Decode(&ev); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("event %d: %w", line, err)
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}

		switch ev.Kind {
		case "segment":
			seg := types.Segment{Text: ev.Text, Confidence: ev.Confidence, IsFinal: ev.Final, Timestamp: ev.At}
			select {
			case segments <- seg:
			case <-ctx.Done():
				return ctx.Err()
			}
			if ev.Final {
				return nil
			}
		case "location":
			cell, err := strconv.ParseUint(ev.Cell, 16, 64)
			if err != nil {
				return fmt.Errorf("event %d: cell %q: %w", line, ev.Cell, err)
			}
			select {
			case samples <- types.LocationSample{Cell: cell, Timestamp: ev.At}:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			slog.Warn("unknown event kind skipped", "line", line, "kind", ev.Kind)
		}
	}
}

func splitTags(s string) []types.Tag {
	var tags []types.Tag
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, types.Tag(t))
		}
	}
	return tags
}
