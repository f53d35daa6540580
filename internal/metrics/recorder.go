// Package metrics exposes approval workflow counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
)

const namespace = "doc_approvals"

// Recorder implements service.MetricsRecorder.
type Recorder struct {
	transitions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
}

var _ service.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the workflow counters with reg. A nil reg uses the
// default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Assignment status changes by document type.",
		}, []string{"document_type", "from", "to"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Recorded approver decisions by document type and verdict.",
		}, []string{"document_type", "decision"}),
		sideEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Secondary writes that failed without failing their operation.",
		}, []string{"kind"}),
	}
}

// Transition counts a status change. A new assignment has an empty from.
func (r *Recorder) Transition(documentType string, from, to workflow.Status) {
	f := string(from)
	if f == "" {
		f = "none"
	}
	r.transitions.WithLabelValues(documentType, f, string(to)).Inc()
}

func (r *Recorder) Decision(documentType string, verdict workflow.Verdict) {
	r.decisions.WithLabelValues(documentType, string(verdict)).Inc()
}

func (r *Recorder) SideEffectFailed(kind service.SideEffectKind) {
	r.sideEffects.WithLabelValues(string(kind)).Inc()
}
