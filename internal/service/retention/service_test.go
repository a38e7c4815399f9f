package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/retention"
)

func TestCleanupOldData(t *testing.T) {
	cutoff := time.Now().UTC().Add(-365 * 24 * time.Hour)

	tests := []struct {
		name       string
		setupMocks func(*mockAssessmentPurger, *mockAlertPurger)
		wantTotal  int64
		wantErr    bool
	}{
		{
			name: "counts from both purgers are summed",
			setupMocks: func(ap *mockAssessmentPurger, alp *mockAlertPurger) {
				ap.On("DeleteAssessedBefore", mock.Anything, cutoff).Return(int64(12), nil)
				alp.On("DeleteTerminalBefore", mock.Anything, cutoff).Return(int64(3), nil)
			},
			wantTotal: 15,
		},
		{
			name: "nothing to remove",
			setupMocks: func(ap *mockAssessmentPurger, alp *mockAlertPurger) {
				ap.On("DeleteAssessedBefore", mock.Anything, cutoff).Return(int64(0), nil)
				alp.On("DeleteTerminalBefore", mock.Anything, cutoff).Return(int64(0), nil)
			},
			wantTotal: 0,
		},
		{
			name: "assessment purge failure still sweeps alerts",
			setupMocks: func(ap *mockAssessmentPurger, alp *mockAlertPurger) {
				ap.On("DeleteAssessedBefore", mock.Anything, cutoff).Return(int64(0), errors.New("db down"))
				alp.On("DeleteTerminalBefore", mock.Anything, cutoff).Return(int64(5), nil)
			},
			wantTotal: 5,
			wantErr:   true,
		},
		{
			name: "alert purge failure reported after assessments removed",
			setupMocks: func(ap *mockAssessmentPurger, alp *mockAlertPurger) {
				ap.On("DeleteAssessedBefore", mock.Anything, cutoff).Return(int64(7), nil)
				alp.On("DeleteTerminalBefore", mock.Anything, cutoff).Return(int64(0), errors.New("db down"))
			},
			wantTotal: 7,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assessments := new(mockAssessmentPurger)
			alerts := new(mockAlertPurger)
			tt.setupMocks(assessments, alerts)

			svc := retention.NewService(assessments, alerts, retention.DefaultConfig(), nil, nil)
			total, err := svc.CleanupOldData(context.Background(), cutoff)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantTotal, total)
			assessments.AssertExpectations(t)
			alerts.AssertExpectations(t)
		})
	}
}

func TestCleanupOldDataZeroCutoff(t *testing.T) {
	svc := retention.NewService(new(mockAssessmentPurger), new(mockAlertPurger), retention.DefaultConfig(), nil, nil)
	_, err := svc.CleanupOldData(context.Background(), time.Time{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRunStopsOnCancel(t *testing.T) {
	assessments := new(mockAssessmentPurger)
	alerts := new(mockAlertPurger)
	assessments.On("DeleteAssessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()
	alerts.On("DeleteTerminalBefore", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()

	cfg := retention.DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	svc := retention.NewService(assessments, alerts, cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunSurvivesSweepFailures(t *testing.T) {
	assessments := new(mockAssessmentPurger)
	alerts := new(mockAlertPurger)
	assessments.On("DeleteAssessedBefore", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))
	alerts.On("DeleteTerminalBefore", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

	cfg := retention.DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	svc := retention.NewService(assessments, alerts, cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// The loop keeps ticking through failures until cancelled.
	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assessments.AssertCalled(t, "DeleteAssessedBefore", mock.Anything, mock.Anything)
}

type mockAssessmentPurger struct {
	mock.Mock
}

func (m *mockAssessmentPurger) DeleteAssessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockAlertPurger struct {
	mock.Mock
}

func (m *mockAlertPurger) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
