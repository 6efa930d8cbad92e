package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/event"
)

// maxEventBytes bounds the webhook body; SNS messages top out at 256 KiB.
const maxEventBytes = 1 << 20

var confirmClient = &http.Client{Timeout: 10 * time.Second}

// handleSNSEvent accepts SNS deliveries for inbound mail notifications.
// Subscription confirmations are completed inline; notifications drive the
// relay. A failed relay answers 5xx so SNS redelivers per its retry policy.
//
//	POST /events/sns
func (s *Server) handleSNSEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	env, ok := event.ParseEnvelope(body)
	if !ok {
		respondError(w, http.StatusBadRequest, "not an SNS envelope")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		if err := confirmSubscription(r.Context(), env); err != nil {
			logrus.WithError(err).WithField("topic", env.TopicArn).Error(
				"Failed to confirm SNS subscription")
			respondError(w, http.StatusBadGateway, "failed to confirm subscription")
			return
		}
		logrus.WithField("topic", env.TopicArn).Info("SNS subscription confirmed")
		respondJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})

	case "Notification":
		s.handleNotification(w, r, body)

	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request, body []byte) {
	messageID, err := event.MessageID(body)
	if err != nil {
		logrus.WithError(err).Warn("Dropping notification without message id")
		respondError(w, http.StatusBadRequest, "no message id in notification")
		return
	}

	if s.dedup != nil && s.dedup.Seen(r.Context(), messageID) {
		s.metrics.Duplicate()
		logrus.WithField("messageId", messageID).Info("Skipping duplicate message")
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "messageId": messageID})
		return
	}

	if err := s.relay.HandleMessage(r.Context(), messageID); err != nil {
		// The relay already logged the cause; SNS retries on 5xx.
		respondError(w, http.StatusInternalServerError, "failed to relay message")
		return
	}

	if s.dedup != nil {
		s.dedup.Mark(r.Context(), messageID)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "messageId": messageID})
}

// confirmSubscription completes an SNS subscription handshake by fetching
// the confirmation URL. Only URLs served by SNS itself are followed.
func confirmSubscription(ctx context.Context, env event.Envelope) error {
	u, err := url.Parse(env.SubscribeURL)
	if err != nil {
		return fmt.Errorf("invalid subscribe URL: %w", err)
	}
	if u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return fmt.Errorf("refusing subscribe URL outside SNS: %s", env.SubscribeURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.SubscribeURL, nil)
	if err != nil {
		return err
	}

	resp, err := confirmClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch subscribe URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe URL answered %s", resp.Status)
	}

	return nil
}
