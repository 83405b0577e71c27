package compute

import (
	"fmt"

	"github.com/huandu/go-clone"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

// JoinSpec is the descriptor handed over by the planner. It fixes the
// join semantics and the resource knobs for one join instance.
type JoinSpec struct {
	JoinTyp JoinType

	//full schemas of both inputs
	BuildTypes []common.LType
	ProbeTypes []common.LType

	//equi-key column pairs. BuildKeyCols[i] joins ProbeKeyCols[i].
	BuildKeyCols []int
	ProbeKeyCols []int

	//optional residual predicate over candidate pairings
	Residual Predicate `clone:"skip"`

	//output column indices over (probe columns ++ build columns).
	//nil keeps everything.
	Projection []int

	//resource knobs from session settings
	Workers         int
	SpillThreshold  int64
	SpillPartitions int
	BlockSize       int
	TempDir         string

	//runtime filter id. negative disables the filter.
	FilterId int
}

func (spec *JoinSpec) validate() error {
	if !spec.JoinTyp.Valid() {
		return fmt.Errorf("unknown join type %d", int(spec.JoinTyp))
	}
	if len(spec.BuildKeyCols) == 0 ||
		len(spec.BuildKeyCols) != len(spec.ProbeKeyCols) {
		return fmt.Errorf("join needs matching key column pairs, got %d/%d",
			len(spec.BuildKeyCols), len(spec.ProbeKeyCols))
	}
	for i, bc := range spec.BuildKeyCols {
		pc := spec.ProbeKeyCols[i]
		if bc < 0 || bc >= len(spec.BuildTypes) {
			return fmt.Errorf("build key column %d out of range", bc)
		}
		if pc < 0 || pc >= len(spec.ProbeTypes) {
			return fmt.Errorf("probe key column %d out of range", pc)
		}
		bt, pt := spec.BuildTypes[bc], spec.ProbeTypes[pc]
		if !bt.Equal(pt) {
			return fmt.Errorf("key pair %d type mismatch: %s vs %s",
				i, bt.String(), pt.String())
		}
		switch bt.GetInternalType() {
		case common.BOOL, common.INT32, common.INT64,
			common.UINT64, common.DOUBLE, common.VARCHAR, common.DECIMAL:
		default:
			return fmt.Errorf("join type %s unsupported for key type %s",
				spec.JoinTyp.String(), bt.String())
		}
	}
	if spec.Workers <= 0 {
		return fmt.Errorf("join needs at least one worker, got %d", spec.Workers)
	}
	if spec.SpillPartitions != 0 &&
		!util.IsPowerOfTwo(uint64(spec.SpillPartitions)) {
		return fmt.Errorf("spill partition count %d is not a power of two",
			spec.SpillPartitions)
	}
	if spec.SpillThreshold > 0 && spec.SpillPartitions == 0 {
		return fmt.Errorf("spill threshold set without partition count")
	}
	outCnt := len(spec.OutputTypesUnprojected())
	for _, p := range spec.Projection {
		if p < 0 || p >= outCnt {
			return fmt.Errorf("projection index %d out of range", p)
		}
	}
	return nil
}

// OutputTypesUnprojected is probe columns, then build columns for
// payload-carrying types, then the mark column for mark joins.
func (spec *JoinSpec) OutputTypesUnprojected() []common.LType {
	typs := common.CopyLTypes(spec.ProbeTypes...)
	if spec.JoinTyp.EmitsBuildPayload() {
		typs = append(typs, spec.BuildTypes...)
	}
	if spec.JoinTyp == JT_MARK {
		typs = append(typs, common.BooleanType())
	}
	return typs
}

func (spec *JoinSpec) OutputTypes() []common.LType {
	typs := spec.OutputTypesUnprojected()
	if spec.Projection == nil {
		return typs
	}
	ret := make([]common.LType, len(spec.Projection))
	for i, p := range spec.Projection {
		ret[i] = typs[p]
	}
	return ret
}

func (spec *JoinSpec) blockSize() int {
	if spec.BlockSize > 0 {
		return spec.BlockSize
	}
	return util.DefaultVectorSize
}

func (spec *JoinSpec) Clone() *JoinSpec {
	ret := clone.Clone(spec).(*JoinSpec)
	ret.Residual = spec.Residual
	return ret
}

// Explain renders the descriptor for diagnostics.
func (spec *JoinSpec) Explain() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("hash join (%s)", spec.JoinTyp.String()))
	keys := tree.AddBranch("keys")
	for i := range spec.BuildKeyCols {
		keys.AddNode(fmt.Sprintf("probe.#%d = build.#%d",
			spec.ProbeKeyCols[i], spec.BuildKeyCols[i]))
	}
	if spec.Residual != nil {
		tree.AddNode("residual predicate")
	}
	res := tree.AddBranch("resources")
	res.AddNode(fmt.Sprintf("workers %d", spec.Workers))
	if spec.SpillThreshold > 0 {
		res.AddNode(fmt.Sprintf("spill threshold %d bytes over %d partitions",
			spec.SpillThreshold, spec.SpillPartitions))
	}
	return tree.String()
}
