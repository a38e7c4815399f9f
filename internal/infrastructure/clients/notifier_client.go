package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/alerting"
)

// NotifierClient delivers alerts through the notification gateway. It
// implements alerting.NotificationSink; the caller treats failures as
// best-effort.
type NotifierClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewNotifierClient(baseURL string, timeout time.Duration, logger *slog.Logger) *NotifierClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifierClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type notifyRequest struct {
	Recipient string           `json:"recipient"`
	Alert     *safeguard.Alert `json:"alert"`
}

type notifyResponse struct {
	Channel string `json:"channel"`
}

// Deliver posts the alert to the gateway, which picks the concrete channel
// (push, SMS, in-app) per recipient class.
func (c *NotifierClient) Deliver(ctx context.Context, alert *safeguard.Alert, recipient alerting.Recipient) (string, error) {
	payload, err := json.Marshal(notifyRequest{
		Recipient: string(recipient),
		Alert:     alert,
	})
	if err != nil {
		return "", errors.NewInternalError("failed to encode notification").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/notifications", bytes.NewReader(payload))
	if err != nil {
		return "", errors.NewInternalError("failed to build notification request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.NewExternalError("notifier", "notification delivery failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", errors.NewExternalError("notifier",
			fmt.Sprintf("notification delivery returned %d", resp.StatusCode))
	}

	var out notifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Channel == "" {
		// Older gateway versions return an empty body.
		return "push", nil
	}
	return out.Channel, nil
}
