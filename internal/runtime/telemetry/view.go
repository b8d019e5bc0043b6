package telemetry

// Indicator heights of a step cell, as a fraction of the cell.
const (
	onStepHeight  = 0.7
	offStepHeight = 0.2
)

// StepCell describes one cell of the step grid.
type StepCell struct {
	Index int `json:"index"`
	// Active is false for steps beyond the configured sequence length.
	Active  bool `json:"active"`
	On      bool `json:"on"`
	Current bool `json:"current"`
	// Height is the indicator fill: the live gate level on the playing
	// step, a fixed level otherwise.
	Height float64 `json:"height"`
}

// StepView lays out the 16 cells of the step grid for s with numSteps steps
// in use.
func StepView(s Snapshot, numSteps int) []StepCell {
	cells := make([]StepCell, Steps)
	for i := range cells {
		cell := StepCell{
			Index:   i,
			Active:  i < numSteps,
			On:      s.StepOn(i),
			Current: i == s.CurrentStep,
		}
		switch {
		case cell.Current && cell.On:
			cell.Height = s.GateLevel
		case cell.On:
			cell.Height = onStepHeight
		default:
			cell.Height = offStepHeight
		}
		cells[i] = cell
	}
	return cells
}
