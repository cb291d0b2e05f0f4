package checkpoint

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors a Manager reports through.
// Callers share one Metrics across every partition's Manager and
// register it with their own registry at startup.
type Metrics struct {
	checkpoints *prometheus.GaugeVec
	openItems   *prometheus.GaugeVec
}

// NewMetrics builds and registers the checkpoint collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvcore",
			Subsystem: "checkpoint",
			Name:      "count",
			Help:      "Number of checkpoints (open + closed) retained per partition.",
		}, []string{"partition"}),
		openItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvcore",
			Subsystem: "checkpoint",
			Name:      "open_items",
			Help:      "Number of data-mutation items in the open checkpoint per partition.",
		}, []string{"partition"}),
	}
	reg.MustRegister(m.checkpoints, m.openItems)
	return m
}

func (m *Metrics) setCheckpoints(partition uint16, v float64) {
	m.checkpoints.WithLabelValues(partitionLabel(partition)).Set(v)
}

func (m *Metrics) setOpenItems(partition uint16, v float64) {
	m.openItems.WithLabelValues(partitionLabel(partition)).Set(v)
}

func partitionLabel(partition uint16) string {
	const hextable = "0123456789abcdef"
	buf := [4]byte{hextable[partition>>12&0xf], hextable[partition>>8&0xf], hextable[partition>>4&0xf], hextable[partition&0xf]}
	return string(buf[:])
}
