// Package transcript stitches the partial, confidence-scored results of the
// speech recogniser into a stable transcript.
//
// The recogniser emits a stream of [types.Segment] values. Segments with a
// confidence of exactly zero are volatile hypotheses that the engine is still
// refining; segments with a positive confidence are settled. The [Aggregator]
// folds that stream into an ordered list of [Utterance] values using a single
// merge rule:
//
//  1. The first segment always becomes the first utterance.
//  2. If the most recent utterance has a total confidence of zero, the new
//     segment replaces it (it is a refinement of the volatile hypothesis).
//  3. Otherwise the new segment is appended as a new utterance.
//
// The transcript is the utterances' text joined by ". ". It is recomputed on
// every call, so reading it has no side effects.
//
// An Aggregator is not safe for concurrent use. The merge rule depends on
// strict temporal ordering, so a single owner (the recording session) must
// serialise all calls.
package transcript

import (
	"strings"
	"time"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/pkg/types"
)

// Separator joins utterances into the transcript.
const Separator = ". "

// Utterance is one unit of speech-to-text output: the segments produced at
// one point in time together with their confidence scores.
type Utterance struct {
	// Segments holds the contributing segments in arrival order.
	Segments []types.Segment
}

// Text returns the segment texts joined by a single space, trimmed.
func (u Utterance) Text() string {
	parts := make([]string, 0, len(u.Segments))
	for _, s := range u.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Confidence returns the sum of the segment confidence scores.
func (u Utterance) Confidence() float64 {
	var total float64
	for _, s := range u.Segments {
		total += s.Confidence
	}
	return total
}

// History is the ordered sequence of utterances recorded in one session.
type History []Utterance

// Transcript joins the text of every utterance with [Separator].
func (h History) Transcript() string {
	texts := make([]string, len(h))
	for i, u := range h {
		texts[i] = u.Text()
	}
	return strings.Join(texts, Separator)
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithClock overrides the wall clock used for pause tracking. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithPauseObserver registers fn to receive the elapsed time between two
// consecutive ingests. The observation is informational only; pauses never
// force an utterance boundary.
func WithPauseObserver(fn func(time.Duration)) Option {
	return func(a *Aggregator) { a.onPause = fn }
}

// Aggregator merges a stream of segments into a [History].
type Aggregator struct {
	history    History
	now        func() time.Time
	onPause    func(time.Duration)
	lastUpdate time.Time
	lastPause  time.Duration
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ingest applies the merge rule to seg.
func (a *Aggregator) Ingest(seg types.Segment) {
	now := a.now()
	if !a.lastUpdate.IsZero() {
		a.lastPause = now.Sub(a.lastUpdate)
		if a.onPause != nil {
			a.onPause(a.lastPause)
		}
	}
	a.lastUpdate = now

	u := Utterance{Segments: []types.Segment{seg}}
	n := len(a.history)
	switch {
	case n == 0:
		a.history = append(a.history, u)
	case a.history[n-1].Confidence() == 0:
		a.history[n-1] = u
	default:
		a.history = append(a.history, u)
	}
}

// Transcript returns the current transcript.
func (a *Aggregator) Transcript() string {
	return a.history.Transcript()
}

// Utterances returns a copy of the current history.
func (a *Aggregator) Utterances() History {
	out := make(History, len(a.history))
	copy(out, a.history)
	return out
}

// Len returns the number of utterances.
func (a *Aggregator) Len() int { return len(a.history) }

// LastPause returns the time between the two most recent ingests, or zero if
// fewer than two segments have been ingested.
func (a *Aggregator) LastPause() time.Duration { return a.lastPause }

// Reset discards all utterances and pause state.
func (a *Aggregator) Reset() {
	a.history = nil
	a.lastUpdate = time.Time{}
	a.lastPause = 0
}
