package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FuncMetric is a metric whose value is read from Value on every scrape.
// It suits components that already keep their own atomic counters.
type FuncMetric struct {
	Name   string
	Help   string
	Labels map[string]string
	Value  func() float64
}

// FuncMetrics groups counter and gauge funcs under one namespace and
// subsystem.
type FuncMetrics struct {
	Namespace string
	Subsystem string
	Counters  []FuncMetric
	Gauges    []FuncMetric
}

// Register adds every metric to reg.  Registration stops at the first
// conflict; metrics registered before it stay registered.
func (f FuncMetrics) Register(reg prometheus.Registerer) error {
	for _, m := range f.Counters {
		c := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   f.Namespace,
			Subsystem:   f.Subsystem,
			Name:        m.Name,
			Help:        m.Help,
			ConstLabels: m.Labels,
		}, m.Value)
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	for _, m := range f.Gauges {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   f.Namespace,
			Subsystem:   f.Subsystem,
			Name:        m.Name,
			Help:        m.Help,
			ConstLabels: m.Labels,
		}, m.Value)
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
