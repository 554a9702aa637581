package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/pkg/types"
)

// Run pumps the speech and location collaborators into r until the final
// segment arrives or segments is closed, then returns nil so the caller can
// Stop. samples may be nil. Both channels are drained by this one goroutine,
// which keeps segments in arrival order. Samples already queued when the
// recording ends are added to the trail before Run returns.
//
// If ctx is done first Run returns its error and leaves the store untouched;
// the caller decides between Stop and Cancel. A location sample whose cell is
// not a valid H3 index is still recorded, with a warning.
func (r *Recording) Run(ctx context.Context, segments <-chan types.Segment, samples <-chan types.LocationSample) error {
	log := observe.LoggerFrom(ctx, r.log)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case seg, ok := <-segments:
			if !ok {
				return r.drainSamples(log, samples)
			}
			if !seg.IsFinal || seg.Text != "" {
				if err := r.IngestSegment(seg); err != nil {
					return err
				}
			}
			if seg.IsFinal {
				return r.drainSamples(log, samples)
			}

		case sample, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			if err := r.addSample(log, sample); err != nil {
				return err
			}
		}
	}
}

// drainSamples records every sample that can be received without blocking.
func (r *Recording) drainSamples(log *slog.Logger, samples <-chan types.LocationSample) error {
	for {
		select {
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			if err := r.addSample(log, sample); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *Recording) addSample(log *slog.Logger, sample types.LocationSample) error {
	crumb, err := r.AddLocation(sample)
	if err != nil {
		return err
	}
	if _, err := crumb.LatLng(); errors.Is(err, breadcrumb.ErrInvalidCell) {
		log.Warn("location sample outside the H3 grid", "cell", sample.Cell, "index", crumb.Index)
	}
	return nil
}
