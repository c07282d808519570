package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestPruneNowUsesRetention(t *testing.T) {
	p := new(mockPruner)
	p.On("Prune", mock.MatchedBy(func(cutoff time.Time) bool {
		age := time.Since(cutoff)
		return age > 47*time.Hour && age < 49*time.Hour
	})).Return(int64(12), nil)

	s, err := New(p, 48*time.Hour, "")
	require.NoError(t, err)

	assert.EqualValues(t, 12, s.PruneNow(context.Background()))
	p.AssertExpectations(t)
}

func TestPruneNowSwallowsErrors(t *testing.T) {
	p := new(mockPruner)
	p.On("Prune", mock.Anything).Return(int64(0), errors.New("database is locked"))

	s, err := New(p, time.Hour, "@daily")
	require.NoError(t, err)
	assert.Zero(t, s.PruneNow(context.Background()))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(new(mockPruner), time.Hour, "every tuesday")
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New(new(mockPruner), time.Hour, "0 3 * * *")
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
