package ratelimit

// checkParams holds the per-call overrides a CheckOption can set, layered
// on top of the Identity and RatePolicy every call already takes.
type checkParams struct {
	algorithm Algorithm
	cost      int64
}

// CheckOption overrides a single call's algorithm or cost without changing
// the engine's defaults.
type CheckOption func(*checkParams)

// WithAlgorithm selects which algorithm this call is evaluated against,
// overriding the engine's default.
func WithAlgorithm(a Algorithm) CheckOption {
	return func(p *checkParams) { p.algorithm = a }
}

// WithCost sets the cost this call contributes (default 1).
func WithCost(cost int64) CheckOption {
	return func(p *checkParams) { p.cost = cost }
}
