package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestStripeParseCheckoutCompleted(t *testing.T) {
	p := NewStripeProvider("sk_test_x", testWebhookSecret, nil)
	header, body := signed(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"customer": "cus_1",
			"payment_intent": "pi_1",
			"payment_status": "paid",
			"metadata": {"order_id": "ord_1"}
		}}
	}`)

	ev, err := p.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "cs_1", ev.Session.ID)
	assert.Equal(t, "cus_1", ev.Session.CustomerID)
	assert.Equal(t, "pi_1", ev.Session.PaymentID)
	assert.Equal(t, "ord_1", ev.Session.Metadata["order_id"])
}

func TestStripeParseSubscription(t *testing.T) {
	p := NewStripeProvider("sk_test_x", testWebhookSecret, nil)
	header, body := signed(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_1",
			"status": "past_due",
			"current_period_end": 1798761600
		}}
	}`)

	ev, err := p.ParseWebhook(body, header)
	require.NoError(t, err)
	require.NotNil(t, ev.Subscription)
	assert.Equal(t, "past_due", ev.Subscription.Status)
	require.NotNil(t, ev.Subscription.CurrentPeriodEnd)
	assert.Equal(t, int64(1798761600), ev.Subscription.CurrentPeriodEnd.Unix())
}

func TestStripeRejectsBadSignature(t *testing.T) {
	p := NewStripeProvider("sk_test_x", testWebhookSecret, nil)
	_, body := signed(t, `{"id":"evt_3","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	_, err := p.ParseWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeUnknownEventHasNoObjects(t *testing.T) {
	p := NewStripeProvider("sk_test_x", testWebhookSecret, nil)
	header, body := signed(t, `{"id":"evt_4","object":"event","type":"invoice.created","data":{"object":{"id":"in_1"}}}`)

	ev, err := p.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "invoice.created", ev.Type)
	assert.Nil(t, ev.Session)
	assert.Nil(t, ev.Payment)
	assert.Nil(t, ev.Subscription)
}
