package group

import "time"

// Metrics receives instrumentation from a Group. The group label is the
// group path.
type Metrics interface {
	ObserveOperation(group, op string, elapsed time.Duration, err error)
	DropOperation(group, op string)
	SetQueueDepth(group string, depth int)
	SetMembers(group string, active int)
	SetMaster(group string, master bool)
	CountEvent(group, event string)
	CountListenerFailure(group string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration, error) {}
func (noopMetrics) DropOperation(string, string)                          {}
func (noopMetrics) SetQueueDepth(string, int)                             {}
func (noopMetrics) SetMembers(string, int)                                {}
func (noopMetrics) SetMaster(string, bool)                                {}
func (noopMetrics) CountEvent(string, string)                             {}
func (noopMetrics) CountListenerFailure(string)                           {}
