package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pacerio/pacer/pkg/logging"
)

// Properties over arbitrary interleavings of demand and item arrivals:
// at most one surplus queue is non-empty, and every delivery is matched by
// exactly one upstream demand signal.
func TestRouterProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("one-sided surplus and conservation", prop.ForAll(
		func(ops []bool) bool {
			up := &recordingSink{}
			r := NewRouter(up, RouterOptions{Logger: logging.NewNop()})
			ctx := context.Background()

			for i, isDemand := range ops {
				var err error
				if isDemand {
					err = r.handleDemand(ctx, &fakeEndpoint{id: fmt.Sprintf("w%d", i)})
				} else {
					err = r.handleItem(ctx, i)
				}
				if err != nil {
					return false
				}

				s := r.Stats()
				if s.PendingItems > 0 && s.PendingDemand > 0 {
					return false
				}
				if s.Delivered != s.Signalled {
					return false
				}
			}

			// Totals reconcile: everything that arrived is either
			// delivered or still queued on its own side.
			s := r.Stats()
			demands, items := 0, 0
			for _, isDemand := range ops {
				if isDemand {
					demands++
				} else {
					items++
				}
			}
			if int(s.Delivered)+s.PendingItems != items {
				return false
			}
			if int(s.Delivered)+s.PendingDemand != demands {
				return false
			}
			return up.signals == int(s.Signalled)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
