package budget

import "fmt"

// Phase selects which stored column is the budget truth and which
// columns get written, while deployments migrate the Value JSON column
// to the ValueProto bytes column.
type Phase int

const (
	// PhaseJSONOnly reads and writes only the legacy JSON column.
	PhaseJSONOnly Phase = 1
	// PhaseDualWrite reads JSON, writes JSON and proto.
	PhaseDualWrite Phase = 2
	// PhaseProtoRead reads proto, still writes both for rollback.
	PhaseProtoRead Phase = 3
	// PhaseProtoOnly reads and writes only the proto column.
	PhaseProtoOnly Phase = 4
)

func (p Phase) Valid() bool {
	return p >= PhaseJSONOnly && p <= PhaseProtoOnly
}

func (p Phase) String() string {
	return fmt.Sprintf("phase_%d", int(p))
}

// TruthIsProto reports whether the proto column decides budget state.
func (p Phase) TruthIsProto() bool {
	return p >= PhaseProtoRead
}

// Columns flags which value columns an operation touches. The key
// columns are always included.
type Columns struct {
	Value      bool
	ValueProto bool
}

// ReadColumns returns the truth column for the phase.
func (p Phase) ReadColumns() Columns {
	if p.TruthIsProto() {
		return Columns{ValueProto: true}
	}
	return Columns{Value: true}
}

// WriteColumns returns the columns written at commit for the phase.
func (p Phase) WriteColumns() Columns {
	switch p {
	case PhaseJSONOnly:
		return Columns{Value: true}
	case PhaseDualWrite, PhaseProtoRead:
		return Columns{Value: true, ValueProto: true}
	default:
		return Columns{ValueProto: true}
	}
}

// PhaseProvider yields the active migration phase. Implementations are
// read-mostly; the consume path snapshots the phase once per request.
type PhaseProvider interface {
	Phase() Phase
}

// StaticPhase is a fixed-phase provider for configuration-pinned
// deployments and tests.
type StaticPhase Phase

func (s StaticPhase) Phase() Phase { return Phase(s) }
