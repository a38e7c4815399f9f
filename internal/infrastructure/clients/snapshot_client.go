// Package clients holds the HTTP clients for services the safeguard engine
// depends on but does not own: the device telemetry aggregator and the
// notification gateway.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// SnapshotClient fetches pre-aggregated behavior snapshots from the device
// telemetry aggregator. It implements detection.SnapshotProvider.
type SnapshotClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewSnapshotClient(baseURL string, timeout time.Duration, logger *slog.Logger) *SnapshotClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Snapshot requests the pair's behavior over the window. The aggregator owns
// the raw event streams; this service never sees individual device events
// outside the returned snapshot.
func (c *SnapshotClient) Snapshot(ctx context.Context, caregiverID, userID uuid.UUID, window safeguard.TimeWindow) (*safeguard.BehaviorSnapshot, error) {
	endpoint := fmt.Sprintf("%s/v1/caregivers/%s/users/%s/snapshot?%s",
		c.baseURL, caregiverID, userID, url.Values{
			"from": {window.From.UTC().Format(time.RFC3339)},
			"to":   {window.To.UTC().Format(time.RFC3339)},
		}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewInternalError("failed to build snapshot request").WithCause(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("snapshot-service", "snapshot request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewExternalError("snapshot-service",
			fmt.Sprintf("snapshot request returned %d", resp.StatusCode))
	}

	var snapshot safeguard.BehaviorSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, errors.NewExternalError("snapshot-service", "malformed snapshot payload").WithCause(err)
	}

	snapshot.CaregiverID = caregiverID
	snapshot.UserID = userID
	snapshot.Window = window
	return &snapshot, nil
}
