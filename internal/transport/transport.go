// Package transport submits outbound mail and answers which addresses may
// appear as its source.
package transport

import "context"

// Mailer submits a fully formed raw message for delivery.
type Mailer interface {
	Send(ctx context.Context, source string, destinations []string, raw []byte) error
}

// Identities answers which addresses are authorized to be used as the
// source of an outbound submission.
type Identities interface {
	VerifiedSenders(ctx context.Context) ([]string, error)
}
