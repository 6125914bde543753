package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsRun(t *testing.T) {
	m := New()

	m.RecipientProcessed("sent")
	m.RecipientProcessed("sent")
	m.RecipientProcessed("failed")
	m.StaleReclaimed(3)
	m.StaleReclaimed(0)
	m.CampaignCompleted()
	m.RunFinished(2 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.processed.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reclaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.CampaignCompleted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taxdesk_campaigns_completed_total 1")
}

func TestMetrics_Push(t *testing.T) {
	var gotPath string
	var gotBody bool
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = len(body) > 0
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	m := New()
	m.RecipientProcessed("sent")

	require.NoError(t, m.Push(context.Background(), gateway.URL, "taxdesk_worker"))
	assert.Equal(t, "/metrics/job/taxdesk_worker", gotPath)
	assert.True(t, gotBody)
}

func TestMetrics_PushFailure(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	err := New().Push(context.Background(), gateway.URL, "taxdesk_worker")
	assert.Error(t, err)
}
