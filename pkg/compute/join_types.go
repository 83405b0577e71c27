package compute

import (
	"errors"
	"fmt"
)

type JoinType int

const (
	JT_INNER JoinType = iota
	JT_LEFT
	JT_RIGHT
	JT_FULL
	JT_SEMI
	JT_ANTI
	JT_MARK
)

var joinTypeToStr = map[JoinType]string{
	JT_INNER: "inner",
	JT_LEFT:  "left",
	JT_RIGHT: "right",
	JT_FULL:  "full",
	JT_SEMI:  "semi",
	JT_ANTI:  "anti",
	JT_MARK:  "mark",
}

func (jt JoinType) String() string {
	if s, has := joinTypeToStr[jt]; has {
		return s
	}
	panic(fmt.Sprintf("usp join type %d", int(jt)))
}

func (jt JoinType) Valid() bool {
	_, has := joinTypeToStr[jt]
	return has
}

// NeedsVisited reports whether unmatched build rows must be tracked.
func (jt JoinType) NeedsVisited() bool {
	return jt == JT_RIGHT || jt == JT_FULL
}

// EmitsBuildPayload reports whether build columns appear in the output.
func (jt JoinType) EmitsBuildPayload() bool {
	switch jt {
	case JT_SEMI, JT_ANTI, JT_MARK:
		return false
	}
	return true
}

type HashJoinStage int32

const (
	HJS_INIT HashJoinStage = iota
	HJS_BUILD
	HJS_PROBE
	HJS_SCAN_HT
	HJS_DONE
)

type JoinMode int32

const (
	JM_IN_MEMORY JoinMode = iota
	JM_SPILL
)

var (
	ErrSchemaMismatch  = errors.New("chunk schema does not match join descriptor")
	ErrChunkTooLarge   = errors.New("chunk exceeds max vector size")
	ErrSpillIO         = errors.New("spill io failed")
	ErrJoinAborted     = errors.New("join aborted")
	ErrFilterNotReady  = errors.New("runtime filter not published")
	ErrFilterPublished = errors.New("runtime filter already published")
)
