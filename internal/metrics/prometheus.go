package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "mm_quote_bot"

type Prometheus struct {
	Metrics *Metrics

	registry               *prometheus.Registry
	cyclesCompleted        prometheus.Counter
	tasksFailed            prometheus.Counter
	requestsSkipped        prometheus.Counter
	quotesAdvised          prometheus.Counter
	instructionsManaged    prometheus.Counter
	instructionsReconciled prometheus.Counter
	ordersPlaced           prometheus.Counter
	ordersCancelled        prometheus.Counter
	ordersFailed           prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:               prometheus.NewRegistry(),
		cyclesCompleted:        newCounter("cycles_completed_total", "Total number of completed trading cycles."),
		tasksFailed:            newCounter("tasks_failed_total", "Total number of pipeline tasks that panicked."),
		requestsSkipped:        newCounter("requests_skipped_total", "Total number of pipeline runs skipped for incomplete configuration."),
		quotesAdvised:          newCounter("quotes_advised_total", "Total number of computed quotes."),
		instructionsManaged:    newCounter("instructions_managed_total", "Total number of instructions accepted by a venue."),
		instructionsReconciled: newCounter("instructions_reconciled_total", "Total number of instructions reconciled as done."),
		ordersPlaced:           newCounter("orders_placed_total", "Total number of orders placed."),
		ordersCancelled:        newCounter("orders_cancelled_total", "Total number of orders cancelled."),
		ordersFailed:           newCounter("orders_failed_total", "Total number of order actions that failed."),
	}
	p.registry.MustRegister(
		p.cyclesCompleted,
		p.tasksFailed,
		p.requestsSkipped,
		p.quotesAdvised,
		p.instructionsManaged,
		p.instructionsReconciled,
		p.ordersPlaced,
		p.ordersCancelled,
		p.ordersFailed,
	)
	p.Metrics = &Metrics{
		CyclesCompleted:        p.cyclesCompleted,
		TasksFailed:            p.tasksFailed,
		RequestsSkipped:        p.requestsSkipped,
		QuotesAdvised:          p.quotesAdvised,
		InstructionsManaged:    p.instructionsManaged,
		InstructionsReconciled: p.instructionsReconciled,
		OrdersPlaced:           p.ordersPlaced,
		OrdersCancelled:        p.ordersCancelled,
		OrdersFailed:           p.ordersFailed,
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
