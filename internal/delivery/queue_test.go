package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/resilience"
	"github.com/sells-group/leadgate/internal/route"
)

func fastWorkerRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestQueue_EnqueueFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue("lead-1"))
	assert.ErrorIs(t, q.Enqueue("lead-2"), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestWorker_TransientFailureRetriedWithinTask(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	w := NewWorker(NewQueue(0), e, st, WithRetryConfig(fastWorkerRetry(3)))

	require.NoError(t, w.process(context.Background(), lead.ID))
	assert.EqualValues(t, 2, hits.Load())

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusDelivered, stored.Status)

	deliveries, err := st.ListDeliveries(context.Background(), lead.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, model.DeliveryStatusFailed, deliveries[0].Status)
	assert.Equal(t, model.DeliveryStatusSent, deliveries[1].Status)
}

func TestWorker_ExhaustedAttemptsFailLead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	w := NewWorker(NewQueue(0), e, st, WithRetryConfig(fastWorkerRetry(2)))

	require.NoError(t, w.process(context.Background(), lead.ID))

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusFailed, stored.Status)

	deliveries, err := st.ListDeliveries(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
}

func TestWorker_PermanentRejectionNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	w := NewWorker(NewQueue(0), e, st, WithRetryConfig(fastWorkerRetry(3)))

	require.NoError(t, w.process(context.Background(), lead.ID))
	assert.EqualValues(t, 1, hits.Load())

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusFailed, stored.Status)
}

func TestWorker_SkipsTerminalLead(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)
	require.NoError(t, st.UpdateLeadStatus(context.Background(), lead.ID, model.LeadStatusDelivered))

	e := NewExecutor(st, route.New(st))
	w := NewWorker(NewQueue(0), e, st)

	require.NoError(t, w.process(context.Background(), lead.ID))
	assert.Zero(t, hits.Load())
}

func TestWorker_NoBuyerIsNotAnError(t *testing.T) {
	st := newTestStore(t)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	w := NewWorker(NewQueue(0), e, st)

	require.NoError(t, w.process(context.Background(), lead.ID))

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusVerified, stored.Status)
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	q := NewQueue(0)
	require.NoError(t, q.Enqueue(lead.ID))

	e := NewExecutor(st, route.New(st))
	w := NewWorker(q, e, st, WithWorkers(2), WithBuyerRPS(100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, err := st.GetLead(context.Background(), lead.ID)
		return err == nil && stored.Status == model.LeadStatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
