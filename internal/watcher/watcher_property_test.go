//go:build property

package watcher

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates that a burst becomes one sorted batch
// holding each path once.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("burst collapses to unique sorted paths", prop.ForAll(
		func(ids []int) bool {
			if len(ids) == 0 {
				return true
			}

			d := NewDebouncer(50 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go d.start(ctx)

			unique := map[string]bool{}
			for _, id := range ids {
				p := fmt.Sprintf("modules/m%d/module.html", id)
				unique[p] = true
				d.Add(ChangeEvent{Path: p, Type: EventTypeModified})
			}

			select {
			case events := <-d.Output():
				if len(events) != len(unique) {
					return false
				}
				return sort.SliceIsSorted(events, func(i, j int) bool { return events[i].Path < events[j].Path })
			case <-time.After(2 * time.Second):
				return false
			}
		},
		gen.SliceOfN(20, gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
