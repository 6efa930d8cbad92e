// Package event decodes inbound mail notifications. The receiving pipeline
// publishes SES receipt events either directly, wrapped in an SNS envelope,
// or in the Records shape used by function triggers; all three carry the
// message id the relay needs.
package event

import (
	"encoding/json"
	"errors"
)

// ErrNoMessageID is returned for payloads that decode but carry no SES
// message id anywhere.
var ErrNoMessageID = errors.New("event carries no message id")

// Envelope is the outer SNS message shape delivered to HTTP endpoints and
// queue subscriptions.
type Envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// ParseEnvelope decodes an SNS envelope. It reports false for payloads that
// are not SNS envelopes at all.
func ParseEnvelope(payload []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, false
	}
	return env, env.Type != ""
}

type recordsEvent struct {
	Records []struct {
		SES struct {
			Mail struct {
				MessageID string `json:"messageId"`
			} `json:"mail"`
		} `json:"ses"`
	} `json:"Records"`
}

type receiptNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
}

// MessageID extracts the SES message id from an event payload, unwrapping
// an SNS envelope when present.
func MessageID(payload []byte) (string, error) {
	if env, ok := ParseEnvelope(payload); ok {
		if env.Message == "" {
			return "", ErrNoMessageID
		}
		return MessageID([]byte(env.Message))
	}

	var records recordsEvent
	if err := json.Unmarshal(payload, &records); err == nil {
		for _, record := range records.Records {
			if id := record.SES.Mail.MessageID; id != "" {
				return id, nil
			}
		}
	}

	var receipt receiptNotification
	if err := json.Unmarshal(payload, &receipt); err == nil && receipt.Mail.MessageID != "" {
		return receipt.Mail.MessageID, nil
	}

	return "", ErrNoMessageID
}
