package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mhol1961/waggin-meals-sub004/internal/config"
)

// RedisSender implements the Sender interface by storing emails in Redis.
// Used by staging and end-to-end tests to observe what would have been sent.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// Send stores a representation of the email in Redis instead of sending it via SMTP.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	// Classify the notification from its subject line so each kind gets its
	// own mock key. Heuristic, matched to the default billing templates.
	notificationType := "unknown"
	switch {
	case strings.Contains(subject, "on its way"):
		notificationType = "payment_success"
	case strings.Contains(subject, "Payment issue"):
		notificationType = "payment_retry_scheduled"
	case strings.Contains(subject, "cancelled"):
		notificationType = "subscription_cancelled"
	}

	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	emailData := map[string]interface{}{
		"to":               strings.Join(to, ", "),
		"from":             s.cfg.SmtpFromAddress,
		"subject":          subject,
		"body":             string(rawMessage),
		"sent_at":          time.Now().UTC().Format(time.RFC3339Nano),
		"notificationType": notificationType,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, notificationType)
	ttl := 5 * time.Minute

	err = s.client.Set(ctx, key, jsonData, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (TTL: %v, To: %s, Subject: %s)", key, ttl, strings.Join(to, ", "), subject)
	return nil
}
