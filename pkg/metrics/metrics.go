package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Metric names reported by the log components.
const (
	RecordsAppended     = "replaylog_records_appended_total"
	RecordsRead         = "replaylog_records_read_total"
	ReadFailures        = "replaylog_read_failures_total"
	SegmentsDeleted     = "replaylog_segments_deleted_total"
	DeletionFailures    = "replaylog_segment_deletion_failures_total"
	ResolutionMisses    = "replaylog_segment_resolution_misses_total"
	ActiveRetrievals    = "replaylog_active_retrievals"
	IngestionErrors     = "replaylog_ingestion_errors_total"
	ReplayDelaySeconds  = "replaylog_replay_delay_seconds"
	ReplayLoopIteration = "replaylog_replay_loop_iterations_total"
)

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}

// OrNop returns c, or a Nop collector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return Nop{}
	}
	return c
}

type value struct {
	bits  atomic.Uint64
	count atomic.Uint64
}

func (v *value) add(delta float64) {
	for {
		old := v.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if v.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (v *value) load() float64 { return math.Float64frombits(v.bits.Load()) }

// Registry is an in-memory Collector. Series are kept ordered by their key so
// the text exposition is stable.
type Registry struct {
	counters   *skipmap.OrderedMap[string, *value]
	gauges     *skipmap.OrderedMap[string, *value]
	histograms *skipmap.OrderedMap[string, *value]
}

var _ Collector = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		counters:   skipmap.New[string, *value](),
		gauges:     skipmap.New[string, *value](),
		histograms: skipmap.New[string, *value](),
	}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	v, _ := r.counters.LoadOrStore(seriesKey(name, labels), newValue())
	v.add(delta)
}

func (r *Registry) SetGauge(name string, labels map[string]string, val float64) {
	v, _ := r.gauges.LoadOrStore(seriesKey(name, labels), newValue())
	v.bits.Store(math.Float64bits(val))
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, val float64) {
	v, _ := r.histograms.LoadOrStore(seriesKey(name, labels), newValue())
	v.add(val)
	v.count.Add(1)
}

// Counter returns the current value of a counter series, 0 when unknown.
func (r *Registry) Counter(name string, labels map[string]string) float64 {
	v, ok := r.counters.Load(seriesKey(name, labels))
	if !ok {
		return 0
	}
	return v.load()
}

// Gauge returns the current value of a gauge series, 0 when unknown.
func (r *Registry) Gauge(name string, labels map[string]string) float64 {
	v, ok := r.gauges.Load(seriesKey(name, labels))
	if !ok {
		return 0
	}
	return v.load()
}

// WriteText writes every series in a line based text format. Histograms are
// exposed as _sum and _count.
func (r *Registry) WriteText(w io.Writer) error {
	var err error
	write := func(key string, val float64) bool {
		_, err = fmt.Fprintf(w, "%s %g\n", key, val)
		return err == nil
	}

	r.counters.Range(func(k string, v *value) bool { return write(k, v.load()) })
	if err != nil {
		return err
	}
	r.gauges.Range(func(k string, v *value) bool { return write(k, v.load()) })
	if err != nil {
		return err
	}
	r.histograms.Range(func(k string, v *value) bool {
		name, labels := splitKey(k)
		return write(name+"_sum"+labels, v.load()) && write(name+"_count"+labels, float64(v.count.Load()))
	})
	return err
}

func newValue() *value { return &value{} }

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func splitKey(key string) (string, string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}
