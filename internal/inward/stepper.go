package inward

import "github.com/pitabwire/cylinder-portal/model"

// Stepper tracks the position of an inward session within the fixed
// six-stage process. Navigation never fails: moving past either end is a
// no-op.
type Stepper struct {
	Current model.Step
}

// NewStepper returns a stepper positioned at the first stage.
func NewStepper() *Stepper {
	return &Stepper{Current: model.StepTruckArrival}
}

// Advance moves to the next stage. It reports whether the position changed.
func (s *Stepper) Advance() bool {
	if s.Current >= model.StepComplete {
		return false
	}
	s.Current++
	return true
}

// Retreat moves to the previous stage. It reports whether the position
// changed.
func (s *Stepper) Retreat() bool {
	if s.Current <= model.StepTruckArrival {
		return false
	}
	s.Current--
	return true
}

// CompletionPercent returns current / StepCount as a percentage.
func (s *Stepper) CompletionPercent() float64 {
	return CompletionPercent(s.Current)
}

// CanComplete reports whether the session sits on the final stage.
func (s *Stepper) CanComplete() bool {
	return s.Current == model.StepComplete
}

// Status returns the display status of step relative to the current stage.
func (s *Stepper) Status(step model.Step) model.StepStatus {
	return model.StatusOf(step, s.Current)
}

// Reset returns the stepper to the first stage.
func (s *Stepper) Reset() {
	s.Current = model.StepTruckArrival
}

// CompletionPercent returns step / StepCount as a percentage.
func CompletionPercent(step model.Step) float64 {
	return float64(step) / float64(model.StepCount) * 100
}
