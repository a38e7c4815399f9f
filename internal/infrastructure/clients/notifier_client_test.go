package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/alerting"
)

func TestNotifierClientDeliver(t *testing.T) {
	alert := safeguard.NewAlert(uuid.New(), uuid.New(), safeguard.LevelCritical,
		safeguard.AlertThresholdExceeded, "critical risk detected")

	t.Run("returns channel from gateway", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req notifyRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, string(alerting.RecipientAdvocate), req.Recipient)
			assert.Equal(t, alert.ID, req.Alert.ID)
			_ = json.NewEncoder(w).Encode(notifyResponse{Channel: "sms"})
		}))
		defer server.Close()

		client := NewNotifierClient(server.URL, time.Second, nil)
		channel, err := client.Deliver(context.Background(), alert, alerting.RecipientAdvocate)
		require.NoError(t, err)
		assert.Equal(t, "sms", channel)
	})

	t.Run("empty body defaults to push channel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		client := NewNotifierClient(server.URL, time.Second, nil)
		channel, err := client.Deliver(context.Background(), alert, alerting.RecipientLauncherUI)
		require.NoError(t, err)
		assert.Equal(t, "push", channel)
	})

	t.Run("gateway rejection surfaces as error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewNotifierClient(server.URL, time.Second, nil)
		_, err := client.Deliver(context.Background(), alert, alerting.RecipientAdvocate)
		assert.Error(t, err)
	})
}
