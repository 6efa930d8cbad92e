package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampions/lampions-go/internal/recipients"
	"github.com/lampions/lampions-go/internal/relay"
	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
)

const testDomain = "example.com"

type capturingMailer struct {
	calls        int
	destinations []string
}

func (m *capturingMailer) Send(ctx context.Context, source string, destinations []string, raw []byte) error {
	m.calls++
	m.destinations = destinations
	return nil
}

type staticIdentities []string

func (s staticIdentities) VerifiedSenders(ctx context.Context) ([]string, error) {
	return s, nil
}

type fixture struct {
	server *Server
	blob   *store.Memory
	routes *routes.Table
	recips *recipients.Map
	mailer *capturingMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blob := store.NewMemory()
	table := routes.NewTable(blob, testDomain)
	recips := recipients.NewMap(blob, testDomain)
	mailer := &capturingMailer{}

	engine := relay.New(relay.Config{
		Domain:     testDomain,
		Blob:       blob,
		Routes:     table,
		Recipients: recips,
		Mailer:     mailer,
		Identities: staticIdentities(nil),
	})

	server := NewServer(Config{Domain: testDomain}, engine, table, recips, blob, nil, nil)

	return &fixture{server: server, blob: blob, routes: table, recips: recips, mailer: mailer}
}

func (f *fixture) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, testDomain, response["domain"])
}

type brokenBlob struct{}

func (brokenBlob) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("store is down")
}

func (brokenBlob) Put(ctx context.Context, key string, data []byte) error {
	return errors.New("store is down")
}

func TestReadyz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	broken := NewServer(Config{Domain: testDomain}, nil, nil, nil, brokenBlob{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	broken.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestRouteLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/routes",
		`{"alias": "jobs", "forward": "real@x.com", "meta": "hiring"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created routes.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "jobs", created.Alias)
	assert.Equal(t, "real@x.com", created.Forward)
	assert.True(t, created.Active)
	assert.NotEmpty(t, created.ID)

	// Duplicate aliases are rejected.
	rec = f.do(t, http.MethodPost, "/api/routes", `{"alias": "jobs", "forward": "other@x.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/routes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Routes []routes.Route `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Routes, 1)

	rec = f.do(t, http.MethodGet, "/api/routes/jobs", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/routes/jobs", `{"active": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated routes.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.False(t, updated.Active)
	assert.Equal(t, "real@x.com", updated.Forward)

	rec = f.do(t, http.MethodGet, "/api/routes?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Empty(t, listing.Routes)

	rec = f.do(t, http.MethodDelete, "/api/routes/jobs", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/routes/jobs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddRouteValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"alias with space", `{"alias": "two words", "forward": "real@x.com"}`},
		{"alias with plus", `{"alias": "jobs+x", "forward": "real@x.com"}`},
		{"missing forward", `{"alias": "jobs"}`},
		{"invalid forward", `{"alias": "jobs", "forward": "nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/routes", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recips.Record(ctx, "jobs", "sender@y.com", "sender@y.com")
	require.NoError(t, err)
	_, err = f.recips.Record(ctx, "sales", "buyer@z.com", "buyer@z.com")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/recipients", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Recipients map[string]map[string]string `json:"recipients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response.Recipients, 2)

	rec = f.do(t, http.MethodGet, "/api/recipients?alias=jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Decode into a fresh struct; unmarshalling into the populated map
	// would merge the two responses.
	var scoped struct {
		Recipients map[string]map[string]string `json:"recipients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scoped))
	assert.Len(t, scoped.Recipients, 1)
	assert.Len(t, scoped.Recipients["jobs"], 1)
}

func TestWebhookRejectsNonEnvelope(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/events/sns", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIgnoresUnknownTypes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/events/sns", `{"Type": "UnsubscribeConfirmation"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookRefusesForeignSubscribeURL(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/events/sns",
		`{"Type": "SubscriptionConfirmation", "SubscribeURL": "https://evil.example.net/confirm"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodPost, "/events/sns",
		`{"Type": "SubscriptionConfirmation", "SubscribeURL": "http://sns.eu-west-1.amazonaws.com/confirm"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWebhookNotificationRelaysMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.routes.Add(ctx, "jobs", "real@x.com", true, "")
	require.NoError(t, err)

	literal := strings.Join([]string{
		"From: sender@y.com",
		"To: jobs@example.com",
		"",
		"Hello.",
	}, "\r\n")
	require.NoError(t, f.blob.Put(ctx, relay.InboxKey("abc123"), []byte(literal)))

	payload := `{
		"Type": "Notification",
		"Message": "{\"notificationType\":\"Received\",\"mail\":{\"messageId\":\"abc123\"}}"
	}`

	rec := f.do(t, http.MethodPost, "/events/sns", payload)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.mailer.calls)
	assert.Equal(t, []string{"real@x.com"}, f.mailer.destinations)
}

func TestWebhookNotificationFailureAnswers500(t *testing.T) {
	f := newFixture(t)

	// No stored message and no routes: the relay fails, SNS should retry.
	payload := `{
		"Type": "Notification",
		"Message": "{\"notificationType\":\"Received\",\"mail\":{\"messageId\":\"missing\"}}"
	}`

	rec := f.do(t, http.MethodPost, "/events/sns", payload)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubDeduper struct {
	seen   map[string]bool
	marked []string
}

func (d *stubDeduper) Seen(ctx context.Context, messageID string) bool { return d.seen[messageID] }
func (d *stubDeduper) Mark(ctx context.Context, messageID string)      { d.marked = append(d.marked, messageID) }

type stubHandler struct {
	called []string
}

func (h *stubHandler) HandleMessage(ctx context.Context, messageID string) error {
	h.called = append(h.called, messageID)
	return nil
}

func TestWebhookSkipsDuplicates(t *testing.T) {
	handler := &stubHandler{}
	dedup := &stubDeduper{seen: map[string]bool{"abc123": true}}
	server := NewServer(Config{Domain: testDomain}, handler, nil, nil, store.NewMemory(), dedup, nil)

	payload := `{
		"Type": "Notification",
		"Message": "{\"notificationType\":\"Received\",\"mail\":{\"messageId\":\"abc123\"}}"
	}`

	req := httptest.NewRequest(http.MethodPost, "/events/sns", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")
	assert.Empty(t, handler.called)
	assert.Empty(t, dedup.marked)
}

func TestWebhookMarksAfterSuccess(t *testing.T) {
	handler := &stubHandler{}
	dedup := &stubDeduper{seen: map[string]bool{}}
	server := NewServer(Config{Domain: testDomain}, handler, nil, nil, store.NewMemory(), dedup, nil)

	payload := `{
		"Type": "Notification",
		"Message": "{\"notificationType\":\"Received\",\"mail\":{\"messageId\":\"abc123\"}}"
	}`

	req := httptest.NewRequest(http.MethodPost, "/events/sns", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"abc123"}, handler.called)
	assert.Equal(t, []string{"abc123"}, dedup.marked)
}
