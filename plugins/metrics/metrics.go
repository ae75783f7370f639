package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/latolukasz/changelog"
)

const PluginCode = "github.com/latolukasz/changelog/plugins/metrics"

type Options struct {
	// Namespace prefixes metric names, "changelog" when empty.
	Namespace string
	// Registerer receives collectors, prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
}

// Plugin counts written log records and observes how many attributes every update changed.
type Plugin struct {
	records *prometheus.CounterVec
	changed *prometheus.HistogramVec
}

func Init(options *Options) *Plugin {
	if options == nil {
		options = &Options{}
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = "changelog"
	}
	registerer := options.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &Plugin{
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of change log records by entity, action and status.",
		}, []string{"entity", "action", "status"}),
		changed: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "changed_attributes",
			Help:      "Number of attributes changed by one logged update.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"entity"}),
	}
}

func (p *Plugin) GetCode() string {
	return PluginCode
}

func (p *Plugin) LogRecordSaved(_ context.Context, event *changelog.Event, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.records.WithLabelValues(event.EntityName, string(event.Action), status).Inc()
	if err == nil && event.Action == changelog.ActionUpdate {
		entry, decodeErr := encodedEntry(event)
		if decodeErr != nil {
			return
		}
		p.changed.WithLabelValues(event.EntityName).Observe(float64(len(entry.Diff())))
	}
}

// encodedEntry compares snapshots in the form they are stored, raw attribute values
// may not be comparable.
func encodedEntry(event *changelog.Event) (changelog.Entry, error) {
	entry := changelog.Entry{}
	for _, pair := range []struct {
		source changelog.Snapshot
		target *changelog.Snapshot
	}{{event.Old, &entry.Old}, {event.New, &entry.New}} {
		encoded, err := pair.source.Encode()
		if err != nil {
			return entry, err
		}
		*pair.target, err = changelog.DecodeSnapshot(encoded)
		if err != nil {
			return entry, err
		}
	}
	return entry, nil
}
