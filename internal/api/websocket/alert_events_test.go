package websocket

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestClientShouldReceive(t *testing.T) {
	userID := uuid.New()
	caregiverID := uuid.New()

	event := &AlertEvent{
		Type:        AlertEventCreated,
		UserID:      userID.String(),
		CaregiverID: caregiverID.String(),
	}

	tests := []struct {
		name   string
		client *AlertClient
		event  *AlertEvent
		want   bool
	}{
		{
			name:   "unfiltered client scoped to user receives",
			client: &AlertClient{userID: userID},
			event:  event,
			want:   true,
		},
		{
			name:   "other user's events are hidden",
			client: &AlertClient{userID: uuid.New()},
			event:  event,
			want:   false,
		},
		{
			name: "immediate-only filter drops routine events",
			client: &AlertClient{
				userID:  userID,
				filters: AlertEventFilters{ImmediateOnly: true},
			},
			event: event,
			want:  false,
		},
		{
			name: "immediate-only filter passes urgent events",
			client: &AlertClient{
				userID:  userID,
				filters: AlertEventFilters{ImmediateOnly: true},
			},
			event: &AlertEvent{
				Type:                    AlertEventCreated,
				UserID:                  userID.String(),
				CaregiverID:             caregiverID.String(),
				RequiresImmediateAction: true,
			},
			want: true,
		},
		{
			name: "event type filter",
			client: &AlertClient{
				userID:  userID,
				filters: AlertEventFilters{EventTypes: []AlertEventType{AlertEventStatusChanged}},
			},
			event: event,
			want:  false,
		},
		{
			name: "caregiver filter passes matching caregiver",
			client: &AlertClient{
				userID:  userID,
				filters: AlertEventFilters{CaregiverIDs: []uuid.UUID{caregiverID}},
			},
			event: event,
			want:  true,
		},
		{
			name: "caregiver filter drops other caregivers",
			client: &AlertClient{
				userID:  userID,
				filters: AlertEventFilters{CaregiverIDs: []uuid.UUID{uuid.New()}},
			},
			event: event,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.client.shouldReceive(tt.event))
		})
	}
}

func TestUpdateFilters(t *testing.T) {
	caregiverID := uuid.New()
	client := &AlertClient{
		userID: uuid.New(),
		hub:    &AlertEventHub{logger: zap.NewNop()},
	}

	client.updateFilters(map[string]interface{}{
		"filters": map[string]interface{}{
			"caregiver_ids":  []interface{}{caregiverID.String(), "not-a-uuid"},
			"event_types":    []interface{}{"alert.created"},
			"immediate_only": true,
		},
	})

	assert.Equal(t, []uuid.UUID{caregiverID}, client.filters.CaregiverIDs)
	assert.Equal(t, []AlertEventType{AlertEventCreated}, client.filters.EventTypes)
	assert.True(t, client.filters.ImmediateOnly)
}
