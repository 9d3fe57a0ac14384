package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opScanNodeTable = "scan_node_table"
	opScanRelTable  = "scan_rel_table"
	opCountRelTable = "count_rel_table"
	opUnwindDedup   = "unwind_dedup"
)

type Metrics struct {
	OutputTuples      *prometheus.CounterVec
	DetachDeleteItems prometheus.Counter
	DetachDeleteNodes prometheus.Counter
}

// NewMetrics registers the operator metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		OutputTuples: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphcore_operator_output_tuples_total",
				Help: "Tuples produced by physical operators",
			},
			[]string{"operator"},
		),
		DetachDeleteItems: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "graphcore_detach_delete_work_items_total",
				Help: "Rel table work items executed by the detach-delete scheduler",
			},
		),
		DetachDeleteNodes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "graphcore_detach_delete_nodes_total",
				Help: "Nodes whose rels were removed by detach-delete batches",
			},
		),
	}
}

func (m *Metrics) addOutput(operator string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutputTuples.WithLabelValues(operator).Add(float64(n))
}

func (m *Metrics) addDetachDelete(items, nodes int) {
	if m == nil {
		return
	}
	m.DetachDeleteItems.Add(float64(items))
	m.DetachDeleteNodes.Add(float64(nodes))
}
