package store

import (
	"context"
)

// DedupRepo defines the interface for inbound message deduplication.
// Twilio retries webhooks it considers failed, so the same MessageSid can
// arrive more than once.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, phone string) (bool, error)
}
