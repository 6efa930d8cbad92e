// Package message wraps a raw RFC 822 literal so headers can be inspected
// and rewritten while every untouched byte, body included, survives
// verbatim.
package message

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/ProtonMail/gluon/rfc5322"
	"github.com/ProtonMail/gluon/rfc822"
)

// Message is a parsed mail literal. Header mutations keep the position and
// raw folding of untouched fields.
type Message struct {
	header *rfc822.Header
	body   []byte
}

// Origin describes where a message effectively came from: the Reply-To
// header when present, the From header otherwise.
type Origin struct {
	// Name is the display name of the origin, possibly empty.
	Name string
	// Address is the bare addr-spec of the origin.
	Address string
	// Raw is the unparsed header value the origin was taken from. It is
	// what gets stored in the recipient map so replies can reproduce the
	// sender exactly as it appeared.
	Raw string
}

// Parse splits a raw message into header and body.
func Parse(literal []byte) (*Message, error) {
	header, body := rfc822.Split(literal)

	h, err := rfc822.NewHeader(header)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message header: %w", err)
	}

	return &Message{header: h, body: body}, nil
}

// Get returns the value of the first header field with the given key.
func (m *Message) Get(key string) string {
	return m.header.Get(key)
}

// Has reports whether any header field with the given key exists.
func (m *Message) Has(key string) bool {
	return m.header.Has(key)
}

// Set replaces every header field with the given key by a single new field.
// The header type only adds fields at the front, so the old fields must go
// first or they would survive next to the replacement; the new field ends up
// before all remaining fields.
func (m *Message) Set(key, val string) {
	m.DeleteAll(key)
	m.header.Set(key, val)
}

// DeleteAll removes every header field with the given key.
func (m *Message) DeleteAll(key string) {
	for m.header.Has(key) {
		m.header.Del(key)
	}
}

// Origin extracts the message origin. The Reply-To value takes precedence
// over From, so it must be read before the headers are sanitized.
func (m *Message) Origin() (Origin, error) {
	raw := m.Get("Reply-To")
	if raw == "" {
		raw = m.Get("From")
	}
	if raw == "" {
		return Origin{}, errors.New("message has neither Reply-To nor From header")
	}

	addrs, err := rfc5322.ParseAddress(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("failed to parse origin address %q: %w", raw, err)
	}
	if len(addrs) == 0 {
		return Origin{}, fmt.Errorf("no address in origin header %q", raw)
	}

	return Origin{Name: addrs[0].Name, Address: addrs[0].Address, Raw: raw}, nil
}

// Recipients returns every address listed across all To header fields, in
// header order. Values that do not parse as address lists are skipped.
func (m *Message) Recipients() []*mail.Address {
	var out []*mail.Address

	m.header.Entries(func(key, val string) {
		if !strings.EqualFold(key, "To") {
			return
		}
		addrs, err := rfc5322.ParseAddressList(val)
		if err != nil {
			return
		}
		out = append(out, addrs...)
	})

	return out
}

// Bytes reassembles the message literal.
func (m *Message) Bytes() []byte {
	return append(m.header.Raw(), m.body...)
}

// FormatAddress renders a display name and addr-spec as an RFC 5322
// address, quoting and encoding the name as needed. An empty name yields
// the bare addr-spec.
func FormatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}
