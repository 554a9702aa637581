// Package breadcrumb records the trail of location samples taken while a
// recording is in progress.
//
// Samples arrive from the location collaborator as H3 cell indexes. A [Trail]
// assigns each one the next ordinal index; the resulting [Breadcrumb] values
// are stored alongside the audio revision they were captured with.
package breadcrumb

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/uber/h3-go/v4"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/pkg/types"
)

// MaxResolution is the finest H3 resolution.
const MaxResolution = 15

var (
	// ErrInvalidCell is returned when a cell index cannot be converted to
	// coordinates.
	ErrInvalidCell = errors.New("breadcrumb: invalid cell")

	// ErrInvalidCoordinate is returned for a latitude or longitude outside
	// the valid range.
	ErrInvalidCoordinate = errors.New("breadcrumb: invalid coordinate")

	// ErrInvalidResolution is returned for a resolution outside [0, 15].
	ErrInvalidResolution = errors.New("breadcrumb: invalid resolution")
)

// Breadcrumb is one timestamped location sample.
type Breadcrumb struct {
	Cell    h3.Cell   `json:"cell"`
	Created time.Time `json:"created"`
	// Index orders breadcrumbs within one revision, starting at 0.
	Index int `json:"index"`
}

// LatLng returns the centre of the breadcrumb's cell.
func (b Breadcrumb) LatLng() (h3.LatLng, error) {
	if !b.Cell.IsValid() {
		return h3.LatLng{}, fmt.Errorf("%w: %#x", ErrInvalidCell, uint64(b.Cell))
	}
	return b.Cell.LatLng(), nil
}

// CellFromLatLng returns the cell containing (lat, lng) at resolution res.
func CellFromLatLng(lat, lng float64, res int) (h3.Cell, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinate, lat, lng)
	}
	if res < 0 || res > MaxResolution {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}
	return h3.LatLngToCell(h3.NewLatLng(lat, lng), res), nil
}

// Trail accumulates breadcrumbs for one recording. It is not safe for
// concurrent use; the owning session serialises access.
type Trail struct {
	crumbs []Breadcrumb
}

// Append records sample with the next ordinal index and returns it.
func (t *Trail) Append(sample types.LocationSample) Breadcrumb {
	b := Breadcrumb{
		Cell:    h3.Cell(sample.Cell),
		Created: sample.Timestamp,
		Index:   len(t.crumbs),
	}
	t.crumbs = append(t.crumbs, b)
	return b
}

// Breadcrumbs returns a copy of the trail in index order.
func (t *Trail) Breadcrumbs() []Breadcrumb {
	if len(t.crumbs) == 0 {
		return nil
	}
	return append([]Breadcrumb(nil), t.crumbs...)
}

// Len returns the number of breadcrumbs recorded.
func (t *Trail) Len() int { return len(t.crumbs) }

// Reset discards every breadcrumb.
func (t *Trail) Reset() { t.crumbs = nil }
