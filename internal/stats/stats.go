// Package stats implements the per-layer and global statistics collaborator
// named in the core spec, exported as Prometheus gauges the way the
// teacher's metrics package wires filesystem counters into client_golang.
package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus metric namespace for every gauge this package
// registers.
const Namespace = "lcfs"

var (
	layerBlocks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "layer",
		Name:      "blocks_allocated",
		Help:      "Lifetime blocks allocated to a layer.",
	}, []string{"layer"})

	layerFreed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "layer",
		Name:      "blocks_freed",
		Help:      "Blocks freed by a layer.",
	}, []string{"layer"})

	layerInodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "layer",
		Name:      "inode_count",
		Help:      "Resident inode count for a layer.",
	}, []string{"layer"})

	globalLayerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "global",
		Name:      "layer_count",
		Help:      "Number of live mounted layers.",
	})

	globalPageCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "global",
		Name:      "resident_pages",
		Help:      "Number of resident pages across all layers.",
	})
)

func init() {
	prometheus.MustRegister(layerBlocks, layerFreed, layerInodes, globalLayerCount, globalPageCount)
}

// LayerStats holds the lifetime counters for one layer. Several fields are
// assertion-only: the core must see them at zero when a layer is destroyed
// (spec.md invariant 7).
type LayerStats struct {
	name string

	Blocks    uint64 // lifetime blocks allocated
	Freed     uint64 // blocks freed
	ICount    int64  // resident inodes
	PCount    int64  // resident pages
	BlockInodesCount int64
	BlockMetaCount   int64
	DPCount          int64
	InodePagesCount  int64
}

// New creates a LayerStats for a layer identified by name (its gindex,
// formatted, is the usual choice).
func New(name string) *LayerStats {
	return &LayerStats{name: name}
}

// Publish pushes the current counters to the registered Prometheus gauges.
func (s *LayerStats) Publish() {
	layerBlocks.WithLabelValues(s.name).Set(float64(s.Blocks))
	layerFreed.WithLabelValues(s.name).Set(float64(s.Freed))
	layerInodes.WithLabelValues(s.name).Set(float64(atomic.LoadInt64(&s.ICount)))
}

// Summary renders a one-line human-readable snapshot, matching
// lc_displayStats's terse "counter=value" style.
func (s *LayerStats) Summary() string {
	return fmt.Sprintf("layer %s: blocks=%d freed=%d icount=%d pcount=%d",
		s.name, s.Blocks, s.Freed, atomic.LoadInt64(&s.ICount), atomic.LoadInt64(&s.PCount))
}

// Unregister drops this layer's label values from the vectored gauges,
// called from Layer destroy so removed layers don't leak time series.
func (s *LayerStats) Unregister() {
	layerBlocks.DeleteLabelValues(s.name)
	layerFreed.DeleteLabelValues(s.name)
	layerInodes.DeleteLabelValues(s.name)
}

// GlobalStats aggregates counters across the whole mounted device.
type GlobalStats struct {
	Count  int64 // live layer objects
	PCount int64 // resident pages across all layers
}

// Publish pushes current aggregate counters to Prometheus.
func (g *GlobalStats) Publish() {
	globalLayerCount.Set(float64(atomic.LoadInt64(&g.Count)))
	globalPageCount.Set(float64(atomic.LoadInt64(&g.PCount)))
}

// Summary renders a one-line snapshot, matching lc_displayGlobalStats.
func (g *GlobalStats) Summary() string {
	return fmt.Sprintf("gfs: count=%d pcount=%d", atomic.LoadInt64(&g.Count), atomic.LoadInt64(&g.PCount))
}
