package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgate/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testLead() *model.Lead {
	return &model.Lead{
		Type:             model.LeadTypeForm,
		Status:           model.LeadStatusPendingOTP,
		FirstName:        "Jane",
		LastName:         "Doe",
		Phone:            "+15551234567",
		Zip:              "90210",
		City:             "Beverly Hills",
		State:            "CA",
		Homeowner:        true,
		IssueType:        model.IssueLeak,
		Urgency:          model.UrgencyToday,
		ConsentTimestamp: time.Now().UTC(),
		ConsentVersion:   "1.0",
	}
}

func TestSQLiteStore_LeadRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateLead(ctx, testLead())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := st.GetLead(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.LeadStatusPendingOTP, got.Status)
	assert.Equal(t, "+15551234567", got.Phone)
	assert.True(t, got.Homeowner)
	assert.Equal(t, model.IssueLeak, got.IssueType)
}

func TestSQLiteStore_UpdateLeadStatus_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lead, err := st.CreateLead(ctx, testLead())
	require.NoError(t, err)

	require.NoError(t, st.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusVerified))
	require.NoError(t, st.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusDelivered))

	// DELIVERED is terminal; any further transition is refused.
	err = st.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusFailed)
	require.Error(t, err)

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusDelivered, got.Status)
}

func TestSQLiteStore_FindQualifiedLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pending, err := st.CreateLead(ctx, testLead())
	require.NoError(t, err)

	q := QualifiedLeadQuery{
		Phone:    "+15551234567",
		Zip:      "90210",
		Since:    time.Now().UTC().AddDate(0, 0, -30),
		Statuses: []model.LeadStatus{model.LeadStatusVerified, model.LeadStatusDelivered, model.LeadStatusQualifiedCall},
	}

	// A pending lead never counts as a duplicate source.
	got, err := st.FindQualifiedLead(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, st.UpdateLeadStatus(ctx, pending.ID, model.LeadStatusVerified))

	got, err = st.FindQualifiedLead(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pending.ID, got.ID)

	// A different zip is a different market, not a duplicate.
	q.Zip = "10001"
	got, err = st.FindQualifiedLead(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ListBuyers_OrderedByCreation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	_, err := st.CreateBuyer(ctx, &model.Buyer{
		Name: "First", DeliveryType: model.DeliveryWebhook,
		WebhookURL: "https://first.test/hook", IsActive: true, CreatedAt: older,
	})
	require.NoError(t, err)
	_, err = st.CreateBuyer(ctx, &model.Buyer{
		Name: "Second", DeliveryType: model.DeliveryWebhook,
		WebhookURL: "https://second.test/hook", Coverage: []string{"90210"}, IsActive: true,
	})
	require.NoError(t, err)
	_, err = st.CreateBuyer(ctx, &model.Buyer{
		Name: "Inactive", DeliveryType: model.DeliveryWebhook,
		WebhookURL: "https://off.test/hook", IsActive: false,
	})
	require.NoError(t, err)

	buyers, err := st.ListBuyers(ctx, BuyerFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, buyers, 2)
	assert.Equal(t, "First", buyers[0].Name)
	assert.Equal(t, "Second", buyers[1].Name)
	assert.Equal(t, []string{"90210"}, buyers[1].Coverage)
}

func TestSQLiteStore_CreateDelivery_AttemptsIncrement(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lead, err := st.CreateLead(ctx, testLead())
	require.NoError(t, err)
	buyer, err := st.CreateBuyer(ctx, &model.Buyer{
		Name: "Acme", DeliveryType: model.DeliveryWebhook,
		WebhookURL: "https://acme.test/hook", IsActive: true,
	})
	require.NoError(t, err)

	first, err := st.CreateDelivery(ctx, &model.Delivery{
		LeadID: lead.ID, BuyerID: buyer.ID, Status: model.DeliveryStatusFailed, ResponseCode: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)

	second, err := st.CreateDelivery(ctx, &model.Delivery{
		LeadID: lead.ID, BuyerID: buyer.ID, Status: model.DeliveryStatusSent, ResponseCode: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)

	deliveries, err := st.ListDeliveries(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, model.DeliveryStatusFailed, deliveries[0].Status)
	assert.Equal(t, model.DeliveryStatusSent, deliveries[1].Status)
}

func TestSQLiteStore_Calls(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	call, err := st.CreateCall(ctx, &model.Call{
		SID: "CA123", FromNumber: "+15557654321", ToNumber: "+15550001111", Status: "ringing",
	})
	require.NoError(t, err)

	updated, err := st.UpdateCallStatus(ctx, "CA123", "completed", 95, "https://rec.test/1")
	require.NoError(t, err)
	assert.Equal(t, call.ID, updated.ID)
	assert.Equal(t, 95, updated.Duration)

	// No lead linked yet.
	lead, err := st.GetLeadByCallSID(ctx, "CA123")
	require.NoError(t, err)
	assert.Nil(t, lead)

	created, err := st.CreateLead(ctx, testLead())
	require.NoError(t, err)
	require.NoError(t, st.LinkCallLead(ctx, call.ID, created.ID))

	lead, err = st.GetLeadByCallSID(ctx, "CA123")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, created.ID, lead.ID)
}
