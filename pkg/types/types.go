// Package types defines the values exchanged between the capture core and its
// external collaborators: the on-device speech recogniser, the location
// provider, and the presentation layer.
//
// They are intentionally minimal. Each internal package defines its own domain
// types; only data that crosses a collaborator boundary lives here.
package types

import "time"

// Segment is one partial result delivered by the speech-recognition engine.
// Segments arrive in temporal order on a single notification channel.
type Segment struct {
	// Text is the recognised speech for this segment.
	Text string

	// Confidence is the recogniser's confidence score (>= 0). Engines report
	// 0 for volatile partial hypotheses that are likely to be revised.
	Confidence float64

	// IsFinal marks the end of the speech stream. A final segment with text
	// is ingested like any other segment; an empty one only ends the stream.
	IsFinal bool

	// Timestamp is when the engine produced the segment.
	Timestamp time.Time
}

// LocationSample is one periodic position report from the location provider,
// already bucketed into a fixed-resolution H3 cell.
type LocationSample struct {
	// Cell is the 64-bit H3 cell index.
	Cell uint64

	// Timestamp is when the position was sampled.
	Timestamp time.Time
}

// Tag is a keyword tag identified by the presentation layer (for example a
// checklist item the inspector tapped). Tags are fed to knowledge extraction
// alongside the transcript.
type Tag string
