package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dental-quote/internal/obs"
)

func TestDomainMetricsHelpers(t *testing.T) {
	obs.MustRegisterDomainMetrics("quote_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.PromoResolutionsTotal.WithLabelValues("table", "invalid"))
	obs.IncPromoResolution("table", "invalid")
	require.Equal(t, before+1, testutil.ToFloat64(obs.PromoResolutionsTotal.WithLabelValues("table", "invalid")))

	before = testutil.ToFloat64(obs.QuoteMutationsTotal.WithLabelValues("apply_code", "superseded"))
	obs.IncQuoteMutation("apply_code", "superseded")
	require.Equal(t, before+1, testutil.ToFloat64(obs.QuoteMutationsTotal.WithLabelValues("apply_code", "superseded")))

	before = testutil.ToFloat64(obs.SnapshotRestoreTotal.WithLabelValues("corrupt"))
	obs.IncSnapshotRestore("corrupt")
	require.Equal(t, before+1, testutil.ToFloat64(obs.SnapshotRestoreTotal.WithLabelValues("corrupt")))

	obs.ObserveApplyCode(12)
	require.Equal(t, 1, testutil.CollectAndCount(obs.ApplyCodeLatency))
}
