package ratelimit

// MetricsRecorder is the interface the engine emits observability counters
// through. The core never implements a concrete exporter — that's external,
// per the project's scope — it only calls Add/Observe on whatever is
// injected via WithRecorder.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// noOpMetricsRecorder is a placeholder that does nothing. It ensures the hot
// path never has to branch on "if recorder != nil".
type noOpMetricsRecorder struct{}

func (noOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (noOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}
