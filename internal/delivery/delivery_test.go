package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/route"
	"github.com/sells-group/leadgate/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func addWebhookBuyer(t *testing.T, st store.Store, url string) *model.Buyer {
	t.Helper()
	b, err := st.CreateBuyer(context.Background(), &model.Buyer{
		Name:         "acme-roofing",
		DeliveryType: model.DeliveryWebhook,
		WebhookURL:   url,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return b
}

func addEmailBuyer(t *testing.T, st store.Store) *model.Buyer {
	t.Helper()
	b, err := st.CreateBuyer(context.Background(), &model.Buyer{
		Name:         "inbox-buyer",
		DeliveryType: model.DeliveryEmail,
		Email:        "leads@buyer.test",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return b
}

func addVerifiedLead(t *testing.T, st store.Store) *model.Lead {
	t.Helper()
	lead, err := st.CreateLead(context.Background(), &model.Lead{
		Type:             model.LeadTypeForm,
		Status:           model.LeadStatusVerified,
		FirstName:        "Jane",
		LastName:         "Doe",
		Phone:            "+15551234567",
		Zip:              "90210",
		State:            "CA",
		Homeowner:        true,
		IssueType:        model.IssueLeak,
		Urgency:          model.UrgencyToday,
		ConsentTimestamp: time.Now().UTC(),
		ConsentVersion:   "1.0",
	})
	require.NoError(t, err)
	return lead
}

func TestDeliver_WebhookSuccess(t *testing.T) {
	var got model.WebhookPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"accepted":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	out, err := e.Deliver(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, ResultSent, out.Result)
	assert.Equal(t, model.DeliveryStatusSent, out.Delivery.Status)
	assert.Equal(t, http.StatusOK, out.Delivery.ResponseCode)
	assert.Equal(t, 1, out.Delivery.Attempt)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, lead.ID, got.LeadID)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, "+15551234567", got.Phone)
	assert.Equal(t, "FORM", got.Type)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusDelivered, stored.Status)
}

func TestDeliver_WebhookNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "validation failed", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	out, err := e.Deliver(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, model.DeliveryStatusFailed, out.Delivery.Status)
	assert.Equal(t, http.StatusUnprocessableEntity, out.Delivery.ResponseCode)
	assert.Contains(t, out.Delivery.ResponseBody, "validation failed")

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusFailed, stored.Status)
}

func TestDeliver_TimeoutRecordedWithoutStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	st := newTestStore(t)
	addWebhookBuyer(t, st, srv.URL)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st), WithTimeout(20*time.Millisecond))
	out, err := e.Deliver(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, model.DeliveryStatusFailed, out.Delivery.Status)
	assert.Zero(t, out.Delivery.ResponseCode)
	assert.NotEmpty(t, out.Delivery.ResponseBody)
}

func TestDeliver_NoBuyerLeavesLeadUntouched(t *testing.T) {
	st := newTestStore(t)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	out, err := e.Deliver(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, ResultNoBuyer, out.Result)
	assert.Nil(t, out.Delivery)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusVerified, stored.Status)

	deliveries, err := st.ListDeliveries(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestDeliver_EmailWithoutSenderFailsExplicitly(t *testing.T) {
	st := newTestStore(t)
	addEmailBuyer(t, st)
	lead := addVerifiedLead(t, st)

	e := NewExecutor(st, route.New(st))
	out, err := e.Deliver(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, model.DeliveryStatusFailed, out.Delivery.Status)
	assert.Equal(t, emailNotConfigured, out.Delivery.ResponseBody)
}

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) Send(ctx context.Context, lead *model.Lead, buyer *model.Buyer) error {
	f.calls++
	return f.err
}

func TestDeliver_EmailSenderSuccess(t *testing.T) {
	st := newTestStore(t)
	addEmailBuyer(t, st)
	lead := addVerifiedLead(t, st)

	sender := &fakeSender{}
	e := NewExecutor(st, route.New(st), WithEmailSender(sender))
	out, err := e.Deliver(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, ResultSent, out.Result)
	assert.Equal(t, 1, sender.calls)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusDelivered, stored.Status)
}
