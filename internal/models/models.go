// Package models defines the core data structures for Palabra.
//
// It includes the learner profile, onboarding stages, quiz rounds, inbound
// messages and the JSON envelope shared by the HTTP surface.
package models

import (
	"errors"
)

// Error variables for better error handling and testability
var (
	ErrEmptySender = errors.New("sender cannot be empty")
	ErrEmptyBody   = errors.New("message body cannot be empty")
)

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// InboundMessage is a single text message received from a learner.
type InboundMessage struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"` // transport message id, used for redelivery dedup
	Time      int64  `json:"time"`
}

// Validate checks that the message carries a sender and a body.
func (m InboundMessage) Validate() error {
	if m.From == "" {
		return ErrEmptySender
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	return nil
}

// Receipt records an outbound message and its delivery status.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
