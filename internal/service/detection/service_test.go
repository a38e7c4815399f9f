package detection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/detection"
)

func TestEvaluateCaregiver(t *testing.T) {
	caregiverID := uuid.New()
	userID := uuid.New()

	tests := []struct {
		name       string
		setupMocks func(*mockSnapshotProvider, *mockPermissionChecker, *mockAssessmentStore, *mockRuleStore, *mockAlertSink)
		check      func(*testing.T, *safeguard.Assessment)
		wantErr    string
	}{
		{
			name: "clean snapshot yields a low assessment",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
				sp.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).
					Return(emptySnapshot(caregiverID, userID), nil)
				rs.On("ListEnabled", mock.Anything).Return(defaultRules(), nil)
				as.On("Insert", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
				sink.On("ProcessAssessment", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
			},
			check: func(t *testing.T, a *safeguard.Assessment) {
				assert.Equal(t, 0, a.Score)
				assert.Equal(t, safeguard.LevelLow, a.Level)
				assert.Empty(t, a.Factors)
			},
		},
		{
			name: "multiple findings aggregate additively",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				snap := emptySnapshot(caregiverID, userID)
				// Three contact modifications (45) plus two escalating
				// permission grants (40) land in MEDIUM.
				snap.ContactEvents = spreadContacts(3)
				snap.PermissionEvents = []safeguard.PermissionEvent{
					{Permission: "sms.send", Granted: true},
					{Permission: "device.admin", Granted: true},
				}
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
				sp.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).Return(snap, nil)
				rs.On("ListEnabled", mock.Anything).Return(defaultRules(), nil)
				as.On("Insert", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
				sink.On("ProcessAssessment", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
			},
			check: func(t *testing.T, a *safeguard.Assessment) {
				assert.Equal(t, 85, a.Score)
				assert.Equal(t, safeguard.LevelHigh, a.Level)
				assert.Len(t, a.Factors, 2)
			},
		},
		{
			name: "disabled rules are excluded",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				snap := emptySnapshot(caregiverID, userID)
				snap.ContactEvents = spreadContacts(3)
				disabled := safeguard.NewDetectionRule("contact manipulation", safeguard.RuleContactManipulation, nil)
				disabled.Disable()
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
				sp.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).Return(snap, nil)
				rs.On("ListEnabled", mock.Anything).Return([]*safeguard.DetectionRule{disabled}, nil)
				as.On("Insert", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
				sink.On("ProcessAssessment", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
			},
			check: func(t *testing.T, a *safeguard.Assessment) {
				assert.Equal(t, 0, a.Score)
				assert.Empty(t, a.Factors)
			},
		},
		{
			name: "one failing rule does not suppress the others",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				snap := emptySnapshot(caregiverID, userID)
				snap.ContactEvents = spreadContacts(3)
				broken := safeguard.NewDetectionRule("broken", safeguard.RuleType("no_such_evaluator"), nil)
				// Validate rejects the unknown type, so the rule is skipped,
				// not fatal.
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
				sp.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).Return(snap, nil)
				rs.On("ListEnabled", mock.Anything).Return([]*safeguard.DetectionRule{
					broken,
					safeguard.NewDetectionRule("contact manipulation", safeguard.RuleContactManipulation, nil),
				}, nil)
				as.On("Insert", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
				sink.On("ProcessAssessment", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
			},
			check: func(t *testing.T, a *safeguard.Assessment) {
				require.Len(t, a.Factors, 1)
				assert.Equal(t, safeguard.FactorContactManipulation, a.Factors[0].Type)
			},
		},
		{
			name: "unlinked caregiver is rejected",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(false, nil)
			},
			wantErr: string(apperrors.ErrorTypeForbidden),
		},
		{
			name: "snapshot failure abandons the run",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
				sp.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).
					Return((*safeguard.BehaviorSnapshot)(nil), errors.New("collector unreachable"))
			},
			wantErr: string(apperrors.ErrorTypeExternal),
		},
		{
			name: "alert sink failure does not fail the evaluation",
			setupMocks: func(sp *mockSnapshotProvider, pc *mockPermissionChecker, as *mockAssessmentStore, rs *mockRuleStore, sink *mockAlertSink) {
				pc.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
				sp.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).
					Return(emptySnapshot(caregiverID, userID), nil)
				rs.On("ListEnabled", mock.Anything).Return(defaultRules(), nil)
				as.On("Insert", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)
				sink.On("ProcessAssessment", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).
					Return(errors.New("notifier down"))
			},
			check: func(t *testing.T, a *safeguard.Assessment) {
				assert.NotNil(t, a)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshots := new(mockSnapshotProvider)
			permissions := new(mockPermissionChecker)
			assessments := new(mockAssessmentStore)
			rules := new(mockRuleStore)
			sink := new(mockAlertSink)
			tt.setupMocks(snapshots, permissions, assessments, rules, sink)

			svc := detection.NewService(snapshots, permissions, assessments, rules, nil, sink,
				detection.DefaultConfig(), nil, nil)
			assessment, err := svc.EvaluateCaregiver(context.Background(), caregiverID, userID, 7*24*time.Hour)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.ErrorType(tt.wantErr)))
				return
			}
			require.NoError(t, err)
			tt.check(t, assessment)
			snapshots.AssertExpectations(t)
			permissions.AssertExpectations(t)
			assessments.AssertExpectations(t)
			rules.AssertExpectations(t)
			sink.AssertExpectations(t)
		})
	}
}

func TestEvaluateCaregiverValidation(t *testing.T) {
	svc := detection.NewService(new(mockSnapshotProvider), nil, new(mockAssessmentStore), new(mockRuleStore),
		nil, nil, detection.DefaultConfig(), nil, nil)

	_, err := svc.EvaluateCaregiver(context.Background(), uuid.Nil, uuid.New(), time.Hour)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = svc.EvaluateCaregiver(context.Background(), uuid.New(), uuid.Nil, time.Hour)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestEvaluateCaregiverCancellation(t *testing.T) {
	caregiverID := uuid.New()
	userID := uuid.New()

	snapshots := new(mockSnapshotProvider)
	permissions := new(mockPermissionChecker)
	assessments := new(mockAssessmentStore)
	rules := new(mockRuleStore)

	permissions.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
	snapshots.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).
		Return(emptySnapshot(caregiverID, userID), nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := detection.NewService(snapshots, permissions, assessments, rules, nil, nil,
		detection.DefaultConfig(), nil, nil)
	_, err := svc.EvaluateCaregiver(ctx, caregiverID, userID, time.Hour)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTimeout))
	// Nothing persisted on cancellation.
	assessments.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestEvaluateCaregiverSerializesPairs(t *testing.T) {
	caregiverID := uuid.New()
	userID := uuid.New()

	var active, maxActive int32
	var trackMu sync.Mutex

	snapshots := new(mockSnapshotProvider)
	permissions := new(mockPermissionChecker)
	assessments := new(mockAssessmentStore)
	rules := new(mockRuleStore)

	permissions.On("IsLinked", mock.Anything, caregiverID, userID).Return(true, nil)
	snapshots.On("Snapshot", mock.Anything, caregiverID, userID, mock.Anything).
		Run(func(args mock.Arguments) {
			trackMu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			trackMu.Unlock()
			time.Sleep(10 * time.Millisecond)
			trackMu.Lock()
			active--
			trackMu.Unlock()
		}).
		Return(emptySnapshot(caregiverID, userID), nil)
	rules.On("ListEnabled", mock.Anything).Return([]*safeguard.DetectionRule{}, nil)
	assessments.On("Insert", mock.Anything, mock.AnythingOfType("*safeguard.Assessment")).Return(nil)

	svc := detection.NewService(snapshots, permissions, assessments, rules, nil, nil,
		detection.DefaultConfig(), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EvaluateCaregiver(context.Background(), caregiverID, userID, time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive, "evaluations for the same pair must not overlap")
}

func TestGetAssessment(t *testing.T) {
	assessments := new(mockAssessmentStore)
	svc := detection.NewService(new(mockSnapshotProvider), nil, assessments, new(mockRuleStore),
		nil, nil, detection.DefaultConfig(), nil, nil)

	id := uuid.New()
	assessments.On("GetByID", mock.Anything, id).Return((*safeguard.Assessment)(nil), nil)

	_, err := svc.GetAssessment(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestGetAssessmentsByLevel(t *testing.T) {
	assessments := new(mockAssessmentStore)
	svc := detection.NewService(new(mockSnapshotProvider), nil, assessments, new(mockRuleStore),
		nil, nil, detection.DefaultConfig(), nil, nil)

	_, err := svc.GetAssessmentsByLevel(context.Background(), uuid.New(), uuid.New(), safeguard.RiskLevel("EXTREME"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRuleAdministration(t *testing.T) {
	t.Run("insert valid rule", func(t *testing.T) {
		rules := new(mockRuleStore)
		svc := detection.NewService(new(mockSnapshotProvider), nil, new(mockAssessmentStore), rules,
			nil, nil, detection.DefaultConfig(), nil, nil)

		rule := safeguard.NewDetectionRule("contact manipulation", safeguard.RuleContactManipulation, nil)
		rules.On("Insert", mock.Anything, rule).Return(nil)
		require.NoError(t, svc.InsertRule(context.Background(), rule))
		rules.AssertExpectations(t)
	})

	t.Run("insert rejects nil and nameless rules", func(t *testing.T) {
		svc := detection.NewService(new(mockSnapshotProvider), nil, new(mockAssessmentStore), new(mockRuleStore),
			nil, nil, detection.DefaultConfig(), nil, nil)

		err := svc.InsertRule(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

		nameless := safeguard.NewDetectionRule("", safeguard.RuleBurstActivity, nil)
		err = svc.InsertRule(context.Background(), nameless)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("update configuration of unknown rule", func(t *testing.T) {
		rules := new(mockRuleStore)
		svc := detection.NewService(new(mockSnapshotProvider), nil, new(mockAssessmentStore), rules,
			nil, nil, detection.DefaultConfig(), nil, nil)

		id := uuid.New()
		rules.On("GetByID", mock.Anything, id).Return((*safeguard.DetectionRule)(nil), nil)
		_, err := svc.UpdateRuleConfiguration(context.Background(), id, map[string]string{"threshold": "5"})
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})

	t.Run("disable then re-enable", func(t *testing.T) {
		rules := new(mockRuleStore)
		svc := detection.NewService(new(mockSnapshotProvider), nil, new(mockAssessmentStore), rules,
			nil, nil, detection.DefaultConfig(), nil, nil)

		rule := safeguard.NewDetectionRule("night activity", safeguard.RuleNightActivity, nil)
		rules.On("GetByID", mock.Anything, rule.ID).Return(rule, nil)
		rules.On("Update", mock.Anything, rule).Return(nil)

		updated, err := svc.SetRuleEnabled(context.Background(), rule.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.Enabled)

		updated, err = svc.SetRuleEnabled(context.Background(), rule.ID, true)
		require.NoError(t, err)
		assert.True(t, updated.Enabled)
	})
}

func emptySnapshot(caregiverID, userID uuid.UUID) *safeguard.BehaviorSnapshot {
	now := time.Now().UTC()
	return &safeguard.BehaviorSnapshot{
		CaregiverID: caregiverID,
		UserID:      userID,
		Window:      safeguard.TimeWindow{From: now.Add(-7 * 24 * time.Hour), To: now},
	}
}

// spreadContacts spaces daytime events hours apart so only count-based rules
// fire, never the burst or night-activity rules.
func spreadContacts(n int) []safeguard.ContactEvent {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	events := make([]safeguard.ContactEvent, n)
	for i := range events {
		events[i] = safeguard.ContactEvent{
			Action:      safeguard.ContactModified,
			ContactName: "Ada",
			OccurredAt:  base.Add(time.Duration(i) * 3 * time.Hour),
		}
	}
	return events
}

func defaultRules() []*safeguard.DetectionRule {
	return []*safeguard.DetectionRule{
		safeguard.NewDetectionRule("contact manipulation", safeguard.RuleContactManipulation, nil),
		safeguard.NewDetectionRule("permission escalation", safeguard.RulePermissionEscalation, nil),
		safeguard.NewDetectionRule("burst activity", safeguard.RuleBurstActivity, nil),
		safeguard.NewDetectionRule("emergency tampering", safeguard.RuleEmergencyTampering, nil),
		safeguard.NewDetectionRule("night activity", safeguard.RuleNightActivity, nil),
		safeguard.NewDetectionRule("isolation pattern", safeguard.RuleIsolationPattern, nil),
	}
}

type mockSnapshotProvider struct {
	mock.Mock
}

func (m *mockSnapshotProvider) Snapshot(ctx context.Context, caregiverID, userID uuid.UUID, window safeguard.TimeWindow) (*safeguard.BehaviorSnapshot, error) {
	args := m.Called(ctx, caregiverID, userID, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*safeguard.BehaviorSnapshot), args.Error(1)
}

type mockPermissionChecker struct {
	mock.Mock
}

func (m *mockPermissionChecker) IsLinked(ctx context.Context, caregiverID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, caregiverID, userID)
	return args.Bool(0), args.Error(1)
}

type mockAssessmentStore struct {
	mock.Mock
}

func (m *mockAssessmentStore) Insert(ctx context.Context, assessment *safeguard.Assessment) error {
	args := m.Called(ctx, assessment)
	return args.Error(0)
}

func (m *mockAssessmentStore) GetByID(ctx context.Context, id uuid.UUID) (*safeguard.Assessment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*safeguard.Assessment), args.Error(1)
}

func (m *mockAssessmentStore) ListSince(ctx context.Context, caregiverID, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error) {
	args := m.Called(ctx, caregiverID, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*safeguard.Assessment), args.Error(1)
}

func (m *mockAssessmentStore) ListByLevel(ctx context.Context, caregiverID, userID uuid.UUID, level safeguard.RiskLevel) ([]*safeguard.Assessment, error) {
	args := m.Called(ctx, caregiverID, userID, level)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*safeguard.Assessment), args.Error(1)
}

type mockRuleStore struct {
	mock.Mock
}

func (m *mockRuleStore) Insert(ctx context.Context, rule *safeguard.DetectionRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockRuleStore) GetByID(ctx context.Context, id uuid.UUID) (*safeguard.DetectionRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*safeguard.DetectionRule), args.Error(1)
}

func (m *mockRuleStore) ListEnabled(ctx context.Context) ([]*safeguard.DetectionRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*safeguard.DetectionRule), args.Error(1)
}

func (m *mockRuleStore) ListByType(ctx context.Context, ruleType safeguard.RuleType) ([]*safeguard.DetectionRule, error) {
	args := m.Called(ctx, ruleType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*safeguard.DetectionRule), args.Error(1)
}

func (m *mockRuleStore) Update(ctx context.Context, rule *safeguard.DetectionRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

type mockAlertSink struct {
	mock.Mock
}

func (m *mockAlertSink) ProcessAssessment(ctx context.Context, assessment *safeguard.Assessment) error {
	args := m.Called(ctx, assessment)
	return args.Error(0)
}
