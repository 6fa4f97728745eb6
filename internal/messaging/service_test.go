package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/Palabra/internal/models"
	"github.com/BTreeMap/Palabra/internal/twiliowhatsapp"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"15551234567", "15551234567", false},
		{"+1 (555) 123-4567", "15551234567", false},
		{"whatsapp:+15551234567", "15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestTwilioServiceSendEmitsReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.SendMessage(context.Background(), "whatsapp:+15551234567", "hola"))
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "15551234567", sent[0].To)

	r := <-svc.Receipts()
	assert.Equal(t, models.MessageStatusSent, r.Status)
	assert.Equal(t, "15551234567", r.To)
}

func TestTwilioServiceSendFailureEmitsFailedReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Err = errors.New("boom")
	svc := NewTwilioService(mock)

	assert.Error(t, svc.SendMessage(context.Background(), "15551234567", "hola"))
	r := <-svc.Receipts()
	assert.Equal(t, models.MessageStatusFailed, r.Status)
}

func TestTwilioServiceInvalidRecipient(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	assert.Error(t, svc.SendMessage(context.Background(), "abc", "hola"))
	assert.Empty(t, mock.Sent())
}

func TestTwilioServiceStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	assert.True(t, svc.Deliver(models.InboundMessage{From: "15551234567", Body: "hi"}))

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop(), "second Stop is a no-op")

	msg, ok := <-svc.Inbound()
	assert.True(t, ok, "buffered message survives Stop")
	assert.Equal(t, "hi", msg.Body)
	_, ok = <-svc.Inbound()
	assert.False(t, ok)

	assert.ErrorIs(t, svc.SendMessage(context.Background(), "15551234567", "x"), ErrServiceStopped)
	assert.False(t, svc.Deliver(models.InboundMessage{From: "15551234567", Body: "late"}))
}
