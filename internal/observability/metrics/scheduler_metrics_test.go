package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{"lock unavailable", fmt.Errorf("sweep: %w", ErrLockUnavailable), SchedulerJobReasonLockUnavailable},
		{"db lock timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{"unique violation", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{"unknown", errors.New("boom"), SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "tillpoint", Environment: "test"})

	m.AddBatchProcessed("pending_payment_timeout", "pending_payments", 3)
	m.AddBatchProcessed("pending_payment_timeout", "pending_payments", 0)

	got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("pending_payment_timeout", "pending_payments"))
	assert.Equal(t, float64(3), got)
}

func TestHTTPMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{})
	m.requests.WithLabelValues("POST", "/sales", "201").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("POST", "/sales", "201")))
}
