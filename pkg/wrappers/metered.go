package wrappers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kotadb/kotadb/pkg/index/primary"
	"github.com/kotadb/kotadb/pkg/index/trigram"
	"github.com/kotadb/kotadb/pkg/validated"
)

// IndexMetrics is the op count/latency-histogram/error-count triple
// Metered records per op name (spec.md §4.10). Unlike a process-global
// metrics package, each wrapped index gets its own IndexMetrics instance
// registered against the Registerer the caller supplies, so constructing
// more than one wrapped index (as tests routinely do) never collides on
// duplicate metric registration.
type IndexMetrics struct {
	opsTotal    *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewIndexMetrics registers the three metrics under subsystem and returns
// a handle Metered wrappers use to record observations. reg may be nil, in
// which case a private registry is used (metrics are collected but not
// exposed, matching a no-op/test setup).
func NewIndexMetrics(reg prometheus.Registerer, subsystem string) *IndexMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &IndexMetrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kotadb",
			Subsystem: subsystem,
			Name:      "ops_total",
			Help:      "Total index operations by op name.",
		}, []string{"op"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kotadb",
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total index operation errors by op name.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kotadb",
			Subsystem: subsystem,
			Name:      "op_duration_seconds",
			Help:      "Index operation latency by op name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(m.opsTotal, m.errorsTotal, m.latency)
	return m
}

func (m *IndexMetrics) observe(op string, start time.Time, err error) {
	m.opsTotal.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errorsTotal.WithLabelValues(op).Inc()
	}
}

// MeteredPrimaryIndex wraps *primary.Index, recording op count, latency,
// and error count per op name. It is the standard outermost wrapper for
// the primary index (spec.md §4.10's "MeteredIndex is the standard
// outermost index wrapper").
type MeteredPrimaryIndex struct {
	inner   *primary.Index
	metrics *IndexMetrics
}

// NewMeteredPrimaryIndex wraps inner with metrics recorded against m.
func NewMeteredPrimaryIndex(inner *primary.Index, m *IndexMetrics) *MeteredPrimaryIndex {
	return &MeteredPrimaryIndex{inner: inner, metrics: m}
}

func (m *MeteredPrimaryIndex) Insert(ctx context.Context, id validated.DocumentID, path validated.Path) error {
	start := time.Now()
	err := m.inner.Insert(ctx, id, path)
	m.metrics.observe("primary.insert", start, err)
	return err
}

func (m *MeteredPrimaryIndex) Update(ctx context.Context, id validated.DocumentID, path validated.Path) error {
	start := time.Now()
	err := m.inner.Update(ctx, id, path)
	m.metrics.observe("primary.update", start, err)
	return err
}

func (m *MeteredPrimaryIndex) Delete(ctx context.Context, id validated.DocumentID) error {
	start := time.Now()
	err := m.inner.Delete(ctx, id)
	m.metrics.observe("primary.delete", start, err)
	return err
}

func (m *MeteredPrimaryIndex) Search(ctx context.Context, term string, limit validated.Limit) ([]primary.Result, error) {
	start := time.Now()
	results, err := m.inner.Search(ctx, term, limit)
	m.metrics.observe("primary.search", start, err)
	return results, err
}

func (m *MeteredPrimaryIndex) Sync(ctx context.Context) error {
	start := time.Now()
	err := m.inner.Sync(ctx)
	m.metrics.observe("primary.sync", start, err)
	return err
}

func (m *MeteredPrimaryIndex) Flush(ctx context.Context) error {
	start := time.Now()
	err := m.inner.Flush(ctx)
	m.metrics.observe("primary.flush", start, err)
	return err
}

func (m *MeteredPrimaryIndex) Close() error {
	start := time.Now()
	err := m.inner.Close()
	m.metrics.observe("primary.close", start, err)
	return err
}

// MeteredTrigramIndex wraps *trigram.Index with the same op count/latency/
// error-count instrumentation as [MeteredPrimaryIndex].
type MeteredTrigramIndex struct {
	inner   *trigram.Index
	metrics *IndexMetrics
}

// NewMeteredTrigramIndex wraps inner with metrics recorded against m.
func NewMeteredTrigramIndex(inner *trigram.Index, m *IndexMetrics) *MeteredTrigramIndex {
	return &MeteredTrigramIndex{inner: inner, metrics: m}
}

func (m *MeteredTrigramIndex) InsertWithContent(ctx context.Context, id validated.DocumentID, path validated.Path, content []byte) error {
	start := time.Now()
	err := m.inner.InsertWithContent(ctx, id, path, content)
	m.metrics.observe("trigram.insert_with_content", start, err)
	return err
}

func (m *MeteredTrigramIndex) UpdateWithContent(ctx context.Context, id validated.DocumentID, path validated.Path, content []byte) error {
	start := time.Now()
	err := m.inner.UpdateWithContent(ctx, id, path, content)
	m.metrics.observe("trigram.update_with_content", start, err)
	return err
}

func (m *MeteredTrigramIndex) Delete(ctx context.Context, id validated.DocumentID) error {
	start := time.Now()
	err := m.inner.Delete(ctx, id)
	m.metrics.observe("trigram.delete", start, err)
	return err
}

func (m *MeteredTrigramIndex) Search(ctx context.Context, query validated.SearchQuery, limit validated.Limit) ([]trigram.Result, error) {
	start := time.Now()
	results, err := m.inner.Search(ctx, query, limit)
	m.metrics.observe("trigram.search", start, err)
	return results, err
}

func (m *MeteredTrigramIndex) Sync(ctx context.Context) error {
	start := time.Now()
	err := m.inner.Sync(ctx)
	m.metrics.observe("trigram.sync", start, err)
	return err
}

func (m *MeteredTrigramIndex) Flush(ctx context.Context) error {
	start := time.Now()
	err := m.inner.Flush(ctx)
	m.metrics.observe("trigram.flush", start, err)
	return err
}

func (m *MeteredTrigramIndex) Close() error {
	start := time.Now()
	err := m.inner.Close()
	m.metrics.observe("trigram.close", start, err)
	return err
}
