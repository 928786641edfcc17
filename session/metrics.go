package session

import "github.com/rcrowley/go-metrics"

type sessionMetrics struct {
	rxFrames    metrics.Counter
	rxBytes     metrics.Counter
	txFrames    metrics.Counter
	txBytes     metrics.Counter
	txCompleted metrics.Counter
}

func newSessionMetrics(name string) *sessionMetrics {
	prefix := "netdev." + name
	return &sessionMetrics{
		rxFrames:    metrics.GetOrRegisterCounter(prefix+".rx.frames", nil),
		rxBytes:     metrics.GetOrRegisterCounter(prefix+".rx.bytes", nil),
		txFrames:    metrics.GetOrRegisterCounter(prefix+".tx.frames", nil),
		txBytes:     metrics.GetOrRegisterCounter(prefix+".tx.bytes", nil),
		txCompleted: metrics.GetOrRegisterCounter(prefix+".tx.completed", nil),
	}
}
