// Package relay implements the routing engine: for one inbound message it
// decides between the forward and the reply path, sanitizes and rewrites
// the headers, and hands the result to the outbound transport.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/address"
	"github.com/lampions/lampions-go/internal/message"
	"github.com/lampions/lampions-go/internal/metrics"
	"github.com/lampions/lampions-go/internal/recipients"
	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
	"github.com/lampions/lampions-go/internal/transport"
)

// ErrUnresolvedRecipient is returned on the reply path when no sender was
// ever recorded under the alias and hash of the reply address.
var ErrUnresolvedRecipient = errors.New("no recipient recorded for reply address")

// sanitizedHeaders are stripped from every relayed message, regardless of
// direction: they either leak the hidden sender, carry signatures the
// rewrite invalidates, or conflict with the rewritten From.
var sanitizedHeaders = []string{
	"Return-Path",
	"DKIM-Signature",
	"Sender",
	"Reply-To",
	"Received-SPF",
	"Authentication-Results",
}

// Config carries the collaborators of an Engine. All fields except Metrics
// are required.
type Config struct {
	// Domain is the mail domain the relay serves, e.g. "example.com".
	Domain     string
	Blob       store.Blob
	Routes     *routes.Table
	Recipients *recipients.Map
	Mailer     transport.Mailer
	Identities transport.Identities
	Metrics    *metrics.Relay
}

// Engine relays one inbound message per call. It holds no state between
// calls: everything durable lives in the routes and recipients documents,
// and concurrent calls interleave on those with last-writer-wins semantics.
type Engine struct {
	domain     string
	blob       store.Blob
	routes     *routes.Table
	recipients *recipients.Map
	mailer     transport.Mailer
	identities transport.Identities
	metrics    *metrics.Relay
}

// New returns an engine for the given collaborators.
func New(cfg Config) *Engine {
	return &Engine{
		domain:     cfg.Domain,
		blob:       cfg.Blob,
		routes:     cfg.Routes,
		recipients: cfg.Recipients,
		mailer:     cfg.Mailer,
		identities: cfg.Identities,
		metrics:    cfg.Metrics,
	}
}

// InboxKey returns the store key raw inbound messages are dropped under by
// the receiving pipeline.
func InboxKey(messageID string) string {
	return "inbox/" + messageID
}

// HandleMessage fetches the raw message stored under the given id,
// classifies it, rewrites its headers and submits it. Failures are logged
// with the message id and surfaced to the caller; nothing is retried and
// nothing is rolled back.
func (e *Engine) HandleMessage(ctx context.Context, messageID string) error {
	log := logrus.WithField("messageId", messageID)

	raw, err := e.blob.Get(ctx, InboxKey(messageID))
	if err != nil {
		e.metrics.Failed("fetch")
		log.WithError(err).Error("Failed to fetch inbound message")
		return fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}

	msg, err := message.Parse(raw)
	if err != nil {
		e.metrics.Failed("parse")
		log.WithError(err).Error("Failed to parse inbound message")
		return err
	}

	// The origin must be captured before sanitizing: Reply-To is both the
	// preferred origin header and on the strip list.
	origin, err := msg.Origin()
	if err != nil {
		e.metrics.Failed("origin")
		log.WithError(err).Error("Failed to determine message origin")
		return err
	}

	for _, key := range sanitizedHeaders {
		msg.DeleteAll(key)
	}

	verified, err := e.identities.VerifiedSenders(ctx)
	if err != nil {
		e.metrics.Failed("verified_senders")
		log.WithError(err).Error("Failed to list verified senders")
		return fmt.Errorf("failed to list verified senders: %w", err)
	}

	rcpts := msg.Recipients()

	if rcpt, ok := replyRecipient(origin, rcpts, verified, e.domain); ok {
		return e.reply(ctx, log, msg, origin, rcpt)
	}
	return e.forward(ctx, log, msg, origin, rcpts)
}

// replyRecipient reports whether the message is a reply: a verified origin
// writing to exactly one recipient whose local part carries a "+" tag on
// the relay domain. Zero or several recipients always force the forward
// path.
func replyRecipient(origin message.Origin, rcpts []*mail.Address, verified []string, domain string) (*mail.Address, bool) {
	if len(rcpts) != 1 {
		return nil, false
	}

	rcpt := rcpts[0]
	local, dom, found := strings.Cut(rcpt.Address, "@")
	if !found || !strings.Contains(local, "+") || !strings.EqualFold(dom, domain) {
		return nil, false
	}

	for _, sender := range verified {
		if sender == origin.Address {
			return rcpt, true
		}
	}

	return nil, false
}

// reply routes a message from the verified owner back to the masked
// original sender.
func (e *Engine) reply(ctx context.Context, log *logrus.Entry, msg *message.Message, origin message.Origin, rcpt *mail.Address) error {
	alias, hash, err := address.Decompose(rcpt.Address, e.domain)
	if err != nil {
		e.metrics.Failed("malformed_address")
		log.WithError(err).WithField("recipient", rcpt.Address).Error("Failed to decompose reply address")
		return err
	}

	recipient, ok, err := e.recipients.Resolve(ctx, alias, hash)
	if err != nil {
		e.metrics.Failed("resolve")
		log.WithError(err).Error("Failed to load recipient map")
		return err
	}
	if !ok {
		e.metrics.Failed("unresolved_recipient")
		log.WithFields(logrus.Fields{"alias": alias, "hash": hash}).Error(
			"No recipient recorded for reply address")
		return fmt.Errorf("%w: alias %q, hash %q", ErrUnresolvedRecipient, alias, hash)
	}

	sender := message.FormatAddress(origin.Name, alias+"@"+e.domain)
	msg.Set("From", sender)
	msg.Set("To", recipient)

	if err := e.submit(ctx, log, msg, sender, recipient); err != nil {
		return err
	}

	e.metrics.Replied()
	log.WithFields(logrus.Fields{"alias": alias, "direction": "reply"}).Info("Message relayed")
	return nil
}

// forward routes a message from an external sender through an alias to the
// real address behind it, masking the sender behind a pseudo-address.
func (e *Engine) forward(ctx context.Context, log *logrus.Entry, msg *message.Message, origin message.Origin, rcpts []*mail.Address) error {
	addrs := make([]string, len(rcpts))
	for i, rcpt := range rcpts {
		addrs[i] = rcpt.Address
	}

	route, err := e.routes.FindActive(ctx, addrs)
	if err != nil {
		if errors.Is(err, routes.ErrNoMatchingRoute) {
			e.metrics.Failed("no_matching_route")
		} else {
			e.metrics.Failed("routes")
		}
		log.WithError(err).WithField("recipients", addrs).Error("Failed to find a forward route")
		return err
	}

	pseudo, err := e.recipients.Record(ctx, route.Alias, origin.Address, origin.Raw)
	if err != nil {
		e.metrics.Failed("record")
		log.WithError(err).WithField("alias", route.Alias).Error("Failed to record recipient relation")
		return err
	}

	name := origin.Address
	if origin.Name != "" {
		name = origin.Name + " (via) " + origin.Address
	}
	sender := message.FormatAddress(name, pseudo)
	msg.Set("From", sender)

	if err := e.submit(ctx, log, msg, sender, route.Forward); err != nil {
		return err
	}

	e.metrics.Forwarded()
	log.WithFields(logrus.Fields{"alias": route.Alias, "direction": "forward"}).Info("Message relayed")
	return nil
}

// submit hands the rewritten message to the transport. A failed submission
// after a successful Record leaves an orphaned recipient entry behind;
// recording is idempotent, so the entry is harmless and not rolled back.
func (e *Engine) submit(ctx context.Context, log *logrus.Entry, msg *message.Message, source, destination string) error {
	if err := e.mailer.Send(ctx, source, []string{destination}, msg.Bytes()); err != nil {
		e.metrics.Submitted(false)
		e.metrics.Failed("submit")
		log.WithError(err).WithFields(logrus.Fields{
			"source":      source,
			"destination": destination,
		}).Error("Failed to submit message")
		return fmt.Errorf("failed to submit message: %w", err)
	}

	e.metrics.Submitted(true)
	return nil
}
