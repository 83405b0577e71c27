package compute

import (
	"github.com/daviszhen/joinexec/pkg/chunk"
)

// Predicate is the external expression-evaluation capability. The join
// only asks one question of it: of these candidate pairings, which
// survive the residual condition. Pairings that fail are treated as
// non-matches and the probe row keeps walking its bucket chain.
type Predicate interface {
	// Select fills matched[0:count]. Pairing i joins probe row
	// probeRows[i] of probe with build row buildRows[i] of build.
	Select(
		probe *chunk.Chunk,
		probeRows []int,
		build *RowCollection,
		buildRows []int32,
		count int,
		matched []bool,
	) error
}
