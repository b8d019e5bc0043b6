package telemetry

import (
	"math"

	jsonpkg "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
)

// Steps is the length of the gate sequence.
const Steps = 16

// Wire field names of a visualizer frame.
const (
	FieldCurrentStep = "currentStep"
	FieldGateLevel   = "gateLevel"
	FieldOutputLevel = "outputLevel"
	FieldStepPattern = "stepPattern"
)

// Snapshot is one visualizer frame. It is a value; consumers replace it
// wholesale and never mutate a published one.
type Snapshot struct {
	CurrentStep int     `json:"currentStep"`
	GateLevel   float64 `json:"gateLevel"`
	OutputLevel float64 `json:"outputLevel"`
	StepPattern uint16  `json:"stepPattern"`
}

// Baseline is the frame shown before the host sends anything: step 0, silent
// levels and every step on.
func Baseline() Snapshot {
	return Snapshot{StepPattern: 0xFFFF}
}

// StepOn reports whether step i is set in the pattern. Step 0 is the most
// significant bit.
func (s Snapshot) StepOn(i int) bool {
	if i < 0 || i >= Steps {
		return false
	}
	return (s.StepPattern>>(Steps-1-i))&1 == 1
}

// Encode renders s the way the editor publishes visualizer frames.
func Encode(s Snapshot) ([]byte, error) {
	return jsonpkg.Marshal(s)
}

// Decode builds a frame from a host payload. Each field is read on its own: a
// missing field takes its baseline value, a field of the wrong type keeps its
// value from last, and numbers are clamped into range. A payload that is not
// an object is an error and yields last unchanged.
func Decode(payload []byte, last Snapshot) (Snapshot, error) {
	fields, err := jsonpkg.UnmarshalObject(payload)
	if err != nil {
		return last, err
	}

	next := Baseline()

	if raw, ok := fields[FieldCurrentStep]; ok {
		next.CurrentStep = last.CurrentStep
		if n, ok := number(raw); ok {
			next.CurrentStep = int(clamp(math.Floor(n), 0, Steps-1))
		}
	}
	if raw, ok := fields[FieldGateLevel]; ok {
		next.GateLevel = last.GateLevel
		if n, ok := number(raw); ok {
			next.GateLevel = clamp(n, 0, 1)
		}
	}
	if raw, ok := fields[FieldOutputLevel]; ok {
		next.OutputLevel = last.OutputLevel
		if n, ok := number(raw); ok {
			next.OutputLevel = clamp(n, 0, 1)
		}
	}
	if raw, ok := fields[FieldStepPattern]; ok {
		next.StepPattern = last.StepPattern
		if n, ok := number(raw); ok {
			next.StepPattern = uint16(clamp(math.Floor(n), 0, 0xFFFF))
		}
	}
	return next, nil
}

func number(v any) (float64, bool) {
	n, ok := v.(float64)
	if !ok || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
