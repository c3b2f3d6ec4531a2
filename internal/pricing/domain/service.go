package domain

// Service is the pure pricing engine. Implementations must be deterministic
// and perform no I/O; rates come from configuration resolved at call time.
type Service interface {
	Calculate(spec VMSpecification) Breakdown
	CalculateMulti(specs []VMSpecification) MultiBreakdown
	ValidateSpec(spec VMSpecification) []Issue
}
