package metrics

type Counter interface {
	Inc()
	Add(float64)
}

type Metrics struct {
	CyclesCompleted        Counter
	TasksFailed            Counter
	RequestsSkipped        Counter
	QuotesAdvised          Counter
	InstructionsManaged    Counter
	InstructionsReconciled Counter
	OrdersPlaced           Counter
	OrdersCancelled        Counter
	OrdersFailed           Counter
}

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesCompleted:        n,
		TasksFailed:            n,
		RequestsSkipped:        n,
		QuotesAdvised:          n,
		InstructionsManaged:    n,
		InstructionsReconciled: n,
		OrdersPlaced:           n,
		OrdersCancelled:        n,
		OrdersFailed:           n,
	}
}

// OrNoop returns m, or a noop set when m is nil.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
