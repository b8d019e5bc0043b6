package params

// Parameter ids of the trance gate.
const (
	IDPattern  = "pattern"
	IDSteps    = "steps"
	IDRate     = "rate"
	IDStepData = "stepData"
	IDAttack   = "attack"
	IDHold     = "hold"
	IDRelease  = "release"
	IDCurve    = "curve"
	IDSwing    = "swing"
	IDHumanize = "humanize"
	IDVelocity = "velocity"
	IDDepth    = "depth"
	IDMix      = "mix"
	IDOutput   = "output"
	IDBypass   = "bypass"
)

// PatternNames labels the preset patterns in index order.
var PatternNames = []string{"All", "Alternate", "Quarter", "Half", "Trance", "Sidechain", "Syncopated", "Stutter"}

// RateNames labels the step divisions in index order.
var RateNames = []string{"1/1", "1/2", "1/4", "1/8", "1/16", "1/32"}

// PresetPatterns holds the 16-step masks of the preset patterns. The most
// significant bit is step 0.
var PresetPatterns = [8]uint16{0xFFFF, 0xAAAA, 0x8888, 0xF0F0, 0xEEEE, 0xFAFA, 0xB6B6, 0xF8F8}

// PatternMask resolves the step mask the engine plays: a preset when pattern
// names one, the custom step data otherwise.
func PatternMask(pattern int, stepData float64) uint16 {
	if pattern >= 0 && pattern < len(PresetPatterns) {
		return PresetPatterns[pattern]
	}
	if stepData < 0 {
		return 0
	}
	if stepData > 0xFFFF {
		return 0xFFFF
	}
	return uint16(stepData)
}

// GateLayout returns the full parameter set of the trance gate.
func GateLayout() []Descriptor {
	return []Descriptor{
		Choice(IDPattern, "Pattern", PatternNames, 4),
		Float(IDSteps, "Steps", 4, 16, 16).WithInterval(1),
		Choice(IDRate, "Rate", RateNames, 3),
		Float(IDStepData, "Step Data", 0, 65535, 65535).WithInterval(1),

		Float(IDAttack, "Attack", 0.1, 100, 5).WithSkew(0.5).WithInterval(0.1).WithUnit("ms"),
		Float(IDHold, "Hold", 0, 100, 50).WithInterval(0.1).WithUnit("%"),
		Float(IDRelease, "Release", 0.1, 500, 50).WithSkew(0.5).WithInterval(0.1).WithUnit("ms"),
		Float(IDCurve, "Curve", -100, 100, 0).WithInterval(0.1),

		Float(IDSwing, "Swing", 0, 100, 0).WithInterval(0.1).WithUnit("%"),
		Float(IDHumanize, "Humanize", 0, 100, 0).WithInterval(0.1).WithUnit("%"),
		Float(IDVelocity, "Velocity", 0, 100, 0).WithInterval(0.1).WithUnit("%"),

		Float(IDDepth, "Depth", 0, 100, 100).WithInterval(0.1).WithUnit("%"),
		Float(IDMix, "Mix", 0, 100, 100).WithInterval(0.1).WithUnit("%"),
		Float(IDOutput, "Output", -24, 12, 0).WithInterval(0.1).WithUnit("dB"),

		Toggle(IDBypass, "Bypass", false),
	}
}
