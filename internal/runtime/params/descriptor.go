package params

import (
	"fmt"
	"math"
	"strconv"

	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
)

// Kind selects how a parameter's value is interpreted.
type Kind int

const (
	KindFloat Kind = iota
	KindChoice
	KindToggle
)

func (k Kind) String() string {
	switch k {
	case KindChoice:
		return "choice"
	case KindToggle:
		return "toggle"
	default:
		return "float"
	}
}

// Descriptor is the static definition of a host parameter. Values in the UI
// are natural (plain) values; the host wire uses normalised [0,1] positions.
type Descriptor struct {
	ID      string
	Name    string
	Kind    Kind
	Min     float64
	Max     float64
	Default float64
	// Skew shapes the normalised mapping: norm = ((v-min)/(max-min))^skew.
	// Zero means linear.
	Skew float64
	// Interval is the step between legal values of a float parameter,
	// counted from Min. Zero means continuous.
	Interval float64
	// Choices is the number of entries of a choice parameter.
	Choices int
	Labels  []string
	Unit    string
}

// Float describes a continuous parameter.
func Float(id, name string, minValue, maxValue, def float64) Descriptor {
	return Descriptor{ID: id, Name: name, Kind: KindFloat, Min: minValue, Max: maxValue, Default: def, Skew: 1}
}

// Choice describes an enumerated parameter whose value is an index into labels.
func Choice(id, name string, labels []string, def int) Descriptor {
	return Descriptor{
		ID:      id,
		Name:    name,
		Kind:    KindChoice,
		Max:     float64(len(labels) - 1),
		Default: float64(def),
		Skew:    1,
		Choices: len(labels),
		Labels:  labels,
	}
}

// Toggle describes an on/off parameter stored as 0 or 1.
func Toggle(id, name string, def bool) Descriptor {
	d := Descriptor{ID: id, Name: name, Kind: KindToggle, Max: 1, Skew: 1, Choices: 2, Labels: []string{"Off", "On"}}
	if def {
		d.Default = 1
	}
	return d
}

// WithSkew returns a copy using the given skew.
func (d Descriptor) WithSkew(skew float64) Descriptor {
	d.Skew = skew
	return d
}

// WithInterval returns a copy whose values snap to multiples of interval
// above Min.
func (d Descriptor) WithInterval(interval float64) Descriptor {
	d.Interval = interval
	return d
}

// WithUnit returns a copy using the given display unit.
func (d Descriptor) WithUnit(unit string) Descriptor {
	d.Unit = unit
	return d
}

// Validate reports why d cannot back a binding.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", errspkg.ErrInvalidDescriptor)
	}
	if d.Skew < 0 || math.IsNaN(d.Skew) {
		return fmt.Errorf("%w: %s: skew must be positive, got %v", errspkg.ErrInvalidDescriptor, d.ID, d.Skew)
	}
	if d.Interval < 0 || math.IsNaN(d.Interval) {
		return fmt.Errorf("%w: %s: interval must not be negative, got %v", errspkg.ErrInvalidDescriptor, d.ID, d.Interval)
	}
	switch d.Kind {
	case KindFloat:
		if !(d.Max > d.Min) {
			return fmt.Errorf("%w: %s: max %v must exceed min %v", errspkg.ErrInvalidDescriptor, d.ID, d.Max, d.Min)
		}
	case KindChoice:
		if d.Choices < 2 {
			return fmt.Errorf("%w: %s: a choice needs at least 2 entries, got %d", errspkg.ErrInvalidDescriptor, d.ID, d.Choices)
		}
		if len(d.Labels) > 0 && len(d.Labels) != d.Choices {
			return fmt.Errorf("%w: %s: %d labels for %d choices", errspkg.ErrInvalidDescriptor, d.ID, len(d.Labels), d.Choices)
		}
	case KindToggle:
	default:
		return fmt.Errorf("%w: %s: unknown kind %d", errspkg.ErrInvalidDescriptor, d.ID, d.Kind)
	}
	lo, hi := d.Bounds()
	if d.Default < lo || d.Default > hi {
		return fmt.Errorf("%w: %s: default %v outside [%v, %v]", errspkg.ErrInvalidDescriptor, d.ID, d.Default, lo, hi)
	}
	return nil
}

// Bounds returns the natural range. Choices span [0, Choices-1] and toggles [0, 1].
func (d Descriptor) Bounds() (float64, float64) {
	switch d.Kind {
	case KindChoice:
		return 0, float64(d.Choices - 1)
	case KindToggle:
		return 0, 1
	default:
		return d.Min, d.Max
	}
}

// Discrete reports whether values are whole indices.
func (d Descriptor) Discrete() bool {
	return d.Kind == KindChoice || d.Kind == KindToggle
}

// Clamp forces v into the natural range, rounding discrete kinds to the
// nearest index and floats to the nearest Interval step. NaN yields the
// default.
func (d Descriptor) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return d.Default
	}
	lo, hi := d.Bounds()
	switch {
	case d.Discrete():
		v = math.Round(v)
	case d.Interval > 0:
		v = lo + d.Interval*math.Round((v-lo)/d.Interval)
	}
	return math.Max(lo, math.Min(hi, v))
}

func (d Descriptor) skew() float64 {
	if d.Skew == 0 {
		return 1
	}
	return d.Skew
}

// Normalize maps a natural value to its [0,1] host position.
func (d Descriptor) Normalize(v float64) float64 {
	lo, hi := d.Bounds()
	if hi <= lo {
		return 0
	}
	proportion := (d.Clamp(v) - lo) / (hi - lo)
	if s := d.skew(); s != 1 && proportion > 0 {
		proportion = math.Pow(proportion, s)
	}
	return proportion
}

// Denormalize maps a host position back to a natural value. Positions outside
// [0,1] are clamped first.
func (d Descriptor) Denormalize(norm float64) float64 {
	if math.IsNaN(norm) {
		return d.Default
	}
	norm = math.Max(0, math.Min(1, norm))
	if s := d.skew(); s != 1 && norm > 0 {
		norm = math.Exp(math.Log(norm) / s)
	}
	lo, hi := d.Bounds()
	return d.Clamp(lo + norm*(hi-lo))
}

// Format renders v for display: choice labels, On/Off for toggles, and one
// decimal plus unit for floats.
func (d Descriptor) Format(v float64) string {
	v = d.Clamp(v)
	if d.Discrete() {
		idx := int(v)
		if idx < len(d.Labels) {
			return d.Labels[idx]
		}
		return strconv.Itoa(idx)
	}
	text := strconv.FormatFloat(v, 'f', 1, 64)
	if d.Unit != "" {
		text += " " + d.Unit
	}
	return text
}
