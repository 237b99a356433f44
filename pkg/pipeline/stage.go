package pipeline

import "fmt"

// Stage is the state of a Store: the last stage whose artifact is present.
// Stages are ordered; every stage needs the artifact of the one before it.
type Stage int

const (
	Empty Stage = iota
	Lexed
	Parsed
	ASTBuilt
	SymbolsBuilt
	IRGenerated
	Optimized
	CodeGenerated
	Allocated
	Scheduled
	Simulated
)

var stageNames = [...]string{
	Empty:         "Empty",
	Lexed:         "Lexed",
	Parsed:        "Parsed",
	ASTBuilt:      "ASTBuilt",
	SymbolsBuilt:  "SymbolsBuilt",
	IRGenerated:   "IRGenerated",
	Optimized:     "Optimized",
	CodeGenerated: "CodeGenerated",
	Allocated:     "Allocated",
	Scheduled:     "Scheduled",
	Simulated:     "Simulated",
}

// Stages lists every runnable stage in pipeline order.
func Stages() []Stage {
	out := make([]Stage, 0, Simulated)
	for s := Lexed; s <= Simulated; s++ {
		out = append(out, s)
	}
	return out
}

func (s Stage) valid() bool {
	return s >= Empty && s <= Simulated
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return Empty, fmt.Errorf("unknown stage %q", name)
}

type eventKind int

const (
	evSetSource eventKind = iota
	evCompleted
)

// event is something that moves the state machine.
type event struct {
	kind  eventKind
	stage Stage
}

func sourceSet() event            { return event{kind: evSetSource} }
func completed(stage Stage) event { return event{kind: evCompleted, stage: stage} }

// after is the only transition function. A new source empties the pipeline;
// completing a stage makes it the last present one, which drops everything
// downstream of it. Completing a stage whose input is absent is refused.
func (s Stage) after(e event) (Stage, error) {
	switch e.kind {
	case evSetSource:
		return Empty, nil
	case evCompleted:
		if e.stage <= Empty || e.stage > Simulated {
			return s, fmt.Errorf("invalid stage %d", int(e.stage))
		}
		if s < e.stage-1 {
			return s, fmt.Errorf("%w: %s needs %s, state is %s", ErrNotReady, e.stage, e.stage-1, s)
		}
		return e.stage, nil
	}
	return s, fmt.Errorf("unknown event %d", e.kind)
}
