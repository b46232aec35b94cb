package filesystem

// Observer receives retry events for metrics. op is "stat", "open" or
// "rename"; volume comes from the VolumeResolver. The metrics package
// implements it, which keeps this package free of Prometheus imports.
type Observer interface {
	ObserveRetryAttempt(op, volume string)
	ObserveRetrySuccess(op, volume string)
	ObserveRetryFailure(op, volume string)
	ObserveRetryDuration(op, volume string, seconds float64)
	ObserveStaleError(op, volume string)
}

var installed Observer

// SetObserver installs the process-wide observer. nil disables reporting.
func SetObserver(o Observer) {
	installed = o
}

type discard struct{}

func (discard) ObserveRetryAttempt(string, string)           {}
func (discard) ObserveRetrySuccess(string, string)           {}
func (discard) ObserveRetryFailure(string, string)           {}
func (discard) ObserveRetryDuration(string, string, float64) {}
func (discard) ObserveStaleError(string, string)             {}

func observe() Observer {
	if installed == nil {
		return discard{}
	}
	return installed
}
