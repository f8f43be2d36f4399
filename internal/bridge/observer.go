package bridge

// Observer mirrors transport-level traffic to an external accounting sink,
// such as the Prometheus collectors in the monitoring package. The bridge
// calls it from multiple goroutines; implementations must be safe for
// concurrent use.
type Observer interface {
	RecordMessageSent(msgType string, bytes int)
	RecordMessageReceived(msgType string, bytes int)
	RecordReconnect()
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithObserver mirrors transfer counters to obs in addition to the
// bridge's own TransferStats.
func WithObserver(obs Observer) Option {
	return func(b *Bridge) { b.observer = obs }
}
