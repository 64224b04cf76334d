package fixture

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
)

// Verify diagnoses and repairs f.Expect.Root in st and checks the outcome
// against f.Expect. It returns nil when the fixture has no expect block.
//
// All failed expectations are reported together.
func Verify(ctx context.Context, st hierarchy.Store, f *Fixture, opts ...hierarchy.Option) error {
	if f.Expect == nil {
		return nil
	}
	want := f.Expect

	h, err := hierarchy.Open(ctx, st, node.ID(want.Root), opts...)
	if err != nil {
		return fmt.Errorf("verify %s: %w", f.Name, err)
	}

	mismatches, err := h.FindMismatches(ctx)
	if err != nil {
		return fmt.Errorf("verify %s: %w", f.Name, err)
	}
	res, err := h.Synchronize(ctx)
	if err != nil {
		return fmt.Errorf("verify %s: %w", f.Name, err)
	}

	var failures []string
	got := make([]int64, 0, len(mismatches))
	for _, m := range mismatches {
		got = append(got, int64(m.ID))
	}
	if !slices.Equal(got, want.Mismatches) {
		failures = append(failures, fmt.Sprintf("mismatches = %v, want %v", got, want.Mismatches))
	}
	if res.Updated != want.Updated {
		failures = append(failures, fmt.Sprintf("updated = %d, want %d", res.Updated, want.Updated))
	}

	ids := make([]int64, 0, len(want.Paths))
	for id := range want.Paths {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		n, err := st.Node(ctx, node.ID(id))
		if err != nil {
			failures = append(failures, fmt.Sprintf("node %d: %v", id, err))
			continue
		}
		if expected := node.PathFromInt64s(want.Paths[id]); !n.Path.Equal(expected) {
			failures = append(failures, fmt.Sprintf("node %d path = %s, want %s", id, n.Path, expected))
		}
	}

	if len(failures) > 0 {
		return &VerifyError{Fixture: f.Name, Failures: failures}
	}
	return nil
}

// VerifyError lists every expectation a fixture failed.
type VerifyError struct {
	Fixture  string
	Failures []string
}

func (e *VerifyError) Error() string {
	msg := fmt.Sprintf("fixture %s: %d expectation(s) failed", e.Fixture, len(e.Failures))
	for _, f := range e.Failures {
		msg += "\n  " + f
	}
	return msg
}
