package scheduling

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrSuperseded is delivered to a caller whose selection was replaced before
// its resolution finished.
var ErrSuperseded = errors.New("selection superseded")

// AvailabilityFinder is satisfied by *Service.
type AvailabilityFinder interface {
	Availability(ctx context.Context, q Query) (*Resolution, error)
}

// Selection is the (date, area, coordinator) triple a user is looking at.
type Selection struct {
	Date          Date
	Area          string
	CoordinatorID string
}

func (s Selection) query() Query {
	return Query{Date: s.Date, Area: s.Area, CoordinatorID: s.CoordinatorID}
}

// Result is delivered once per Select call.
type Result struct {
	Selection  Selection
	Resolution *Resolution
	Err        error
}

// Controller keeps the resolution of the latest selection. Resolutions for
// older selections that complete late are discarded.
type Controller struct {
	finder AvailabilityFinder
	logger zerolog.Logger

	mu         sync.Mutex
	generation uint64
	selection  Selection
	current    *Resolution
	err        error
}

func NewController(finder AvailabilityFinder, logger zerolog.Logger) *Controller {
	return &Controller{finder: finder, logger: logger}
}

// Select makes sel the current selection and resolves it in the background.
// The returned channel receives exactly one Result.
func (c *Controller) Select(ctx context.Context, sel Selection) <-chan Result {
	c.mu.Lock()
	c.generation++
	ticket := c.generation
	c.selection = sel
	c.current = nil
	c.err = nil
	c.mu.Unlock()

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res, err := c.finder.Availability(ctx, sel.query())

		c.mu.Lock()
		defer c.mu.Unlock()
		if ticket != c.generation {
			c.logger.Debug().
				Str("date", sel.Date.String()).
				Str("area", sel.Area).
				Str("coordinator_id", sel.CoordinatorID).
				Msg("discarding stale resolution")
			out <- Result{Selection: sel, Err: ErrSuperseded}
			return
		}
		c.current, c.err = res, err
		out <- Result{Selection: sel, Resolution: res, Err: err}
	}()
	return out
}

// Resolve is Select followed by a wait for the result.
func (c *Controller) Resolve(ctx context.Context, sel Selection) (*Resolution, error) {
	r := <-c.Select(ctx, sel)
	return r.Resolution, r.Err
}

// Refresh re-resolves the current selection, typically after the server
// reported a conflict.
func (c *Controller) Refresh(ctx context.Context) (*Resolution, error) {
	c.mu.Lock()
	sel := c.selection
	c.mu.Unlock()
	return c.Resolve(ctx, sel)
}

// Current returns the latest applied selection and its resolution. The
// resolution is nil while a selection is still resolving.
func (c *Controller) Current() (Selection, *Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection, c.current, c.err
}
