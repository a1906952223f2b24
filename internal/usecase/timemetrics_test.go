package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpulse/powerpulse/internal/domain"
	"github.com/powerpulse/powerpulse/internal/usecase"
)

func TestComputeTimeMetrics(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(offset time.Duration, dir domain.Direction) domain.Message {
		return domain.Message{Direction: dir, SocialCreateTime: base.Add(offset)}
	}

	t.Run("customer then agent", func(t *testing.T) {
		t.Parallel()
		msgs := []domain.Message{
			at(0, domain.DirectionToCompany),
			at(2*time.Minute, domain.DirectionToClient),
		}
		tm := usecase.ComputeTimeMetrics(msgs)
		require.NotNil(t, tm.FirstResponseSec)
		require.NotNil(t, tm.AvgResponseSec)
		require.NotNil(t, tm.HandlingMin)
		assert.Equal(t, 120.0, *tm.FirstResponseSec)
		assert.Equal(t, 120.0, *tm.AvgResponseSec)
		assert.Equal(t, 2.0, *tm.HandlingMin)
	})

	t.Run("pending resets after each agent response", func(t *testing.T) {
		t.Parallel()
		msgs := []domain.Message{
			at(0, domain.DirectionToCompany),               // starts pair 1
			at(1*time.Minute, domain.DirectionToCompany),   // follow-up, ignored
			at(3*time.Minute, domain.DirectionToClient),    // closes pair 1: 180s
			at(3*time.Minute, domain.DirectionToClient),    // consecutive agent, no pair
			at(10*time.Minute, domain.DirectionToCompany),  // starts pair 2
			at(10*time.Minute+30*time.Second, domain.DirectionToClient), // closes pair 2: 30s
		}
		tm := usecase.ComputeTimeMetrics(msgs)
		require.NotNil(t, tm.FirstResponseSec)
		assert.Equal(t, 180.0, *tm.FirstResponseSec)
		require.NotNil(t, tm.AvgResponseSec)
		assert.Equal(t, 105.0, *tm.AvgResponseSec) // (180+30)/2
		require.NotNil(t, tm.HandlingMin)
		assert.Equal(t, 10.5, *tm.HandlingMin)
	})

	t.Run("agent first never pairs", func(t *testing.T) {
		t.Parallel()
		msgs := []domain.Message{
			at(0, domain.DirectionToClient),
			at(5*time.Minute, domain.DirectionToClient),
		}
		tm := usecase.ComputeTimeMetrics(msgs)
		assert.Nil(t, tm.FirstResponseSec)
		assert.Nil(t, tm.AvgResponseSec)
		require.NotNil(t, tm.HandlingMin)
		assert.Equal(t, 5.0, *tm.HandlingMin)
	})

	t.Run("unanswered customer leaves response metrics nil", func(t *testing.T) {
		t.Parallel()
		msgs := []domain.Message{
			at(0, domain.DirectionToCompany),
			at(1*time.Hour, domain.DirectionToCompany),
		}
		tm := usecase.ComputeTimeMetrics(msgs)
		assert.Nil(t, tm.FirstResponseSec)
		assert.Nil(t, tm.AvgResponseSec)
		require.NotNil(t, tm.HandlingMin)
		assert.Equal(t, 60.0, *tm.HandlingMin)
	})

	t.Run("single message has no handling time", func(t *testing.T) {
		t.Parallel()
		tm := usecase.ComputeTimeMetrics([]domain.Message{at(0, domain.DirectionToCompany)})
		assert.Nil(t, tm.FirstResponseSec)
		assert.Nil(t, tm.AvgResponseSec)
		assert.Nil(t, tm.HandlingMin)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		tm := usecase.ComputeTimeMetrics(nil)
		assert.Nil(t, tm.FirstResponseSec)
		assert.Nil(t, tm.AvgResponseSec)
		assert.Nil(t, tm.HandlingMin)
	})
}
