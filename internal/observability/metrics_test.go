package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMetricsIsSingleton(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	assert.Same(t, a, b)
}

func TestRecordDBQuery(t *testing.T) {
	m := NewMetrics()

	t.Run("records success", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordDBQuery("select", "objects", 5*time.Millisecond, nil)
		})
	})

	t.Run("records failure", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordDBQuery("insert", "relations", 2*time.Millisecond, errors.New("boom"))
		})
	})
}

func TestRecordApply(t *testing.T) {
	m := NewMetrics()

	assert.NotPanics(t, func() {
		m.RecordApply(3, 12*time.Millisecond, nil)
	})
	assert.NotPanics(t, func() {
		m.RecordApply(0, time.Millisecond, errors.New("validation failed"))
	})
}

func TestRecordRelations(t *testing.T) {
	m := NewMetrics()

	assert.NotPanics(t, func() {
		m.RecordRelationsInserted(2)
		m.RecordRelationsDeleted(1)
	})
}

func TestRecordCacheFillAndHit(t *testing.T) {
	m := NewMetrics()

	assert.NotPanics(t, func() {
		m.RecordCacheFill("schema")
		m.RecordCacheHit("schema")
		m.RecordCacheFill("foreign_key")
		m.RecordCacheHit("foreign_key")
	})
}

func TestNewMetricsServer(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics")
	assert.Equal(t, 0, ms.port)
	assert.Equal(t, "/metrics", ms.path)
}
