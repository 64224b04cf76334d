package testutil

// ConstantRunIDs hands out the same run id on every repair.
//
// Unlike hierarchy.FixedGenerator, which returns ids in sequence, the output
// does not depend on the order concurrent repairs start in, so reports of a
// multi-root sync stay byte-identical across runs.
//
// Thread-safety: ConstantRunIDs is stateless and safe for concurrent use.
type ConstantRunIDs struct {
	id string
}

// NewConstantRunIDs creates a generator that always returns id.
//
// If id is empty, Generate() returns "test-run".
func NewConstantRunIDs(id string) *ConstantRunIDs {
	if id == "" {
		id = "test-run"
	}
	return &ConstantRunIDs{id: id}
}

// Generate returns the constant run id.
func (g *ConstantRunIDs) Generate() string {
	return g.id
}
