package hostdb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetAliveDeadZombieTransitions(t *testing.T) {
	var tg Target
	now := time.Unix(1_000_000, 0)
	assert.True(t, tg.IsAlive())
	assert.False(t, tg.IsDead(now, 30*time.Second))
	assert.False(t, tg.IsZombie(now, 30*time.Second))

	assert.True(t, tg.MarkDown(now))
	assert.False(t, tg.IsAlive())
	assert.True(t, tg.IsDead(now, 30*time.Second))
	assert.False(t, tg.IsZombie(now, 30*time.Second))

	zombieAt := now.Add(31 * time.Second)
	assert.False(t, tg.IsDead(zombieAt, 30*time.Second))
	assert.True(t, tg.IsZombie(zombieAt, 30*time.Second))
}

func TestTargetMarkDownIsIdempotentUntilMarkUp(t *testing.T) {
	var tg Target
	now := time.Unix(2_000_000, 0)
	assert.True(t, tg.MarkDown(now))
	assert.False(t, tg.MarkDown(now.Add(time.Second)), "a second mark-down while already down must be a no-op")
	assert.Equal(t, now.Unix(), tg.LastFailure())
	assert.EqualValues(t, 1, tg.FailureCount())

	assert.True(t, tg.MarkUp())
	assert.True(t, tg.IsAlive())
	assert.False(t, tg.MarkUp(), "marking up an already-alive target reports no prior failure")
}

// TestTargetZombieReservationIsExclusive is end-to-end scenario 4 from
// spec §8: two threads racing a zombie reservation must split exactly
// one winner and one loser, never both or neither.
func TestTargetZombieReservationIsExclusive(t *testing.T) {
	var tg Target
	t0 := time.Unix(10_000, 0)
	failWindow := 30 * time.Second
	tg.MarkDown(t0)

	zombieNow := t0.Add(failWindow + time.Second)
	assert.True(t, tg.IsZombie(zombieNow, failWindow))

	const racers = 16
	var wins int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			if tg.Select(zombieNow, failWindow) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins, "exactly one caller must win the zombie reservation")
}

func TestTargetSelectAliveAlwaysSucceeds(t *testing.T) {
	var tg Target
	now := time.Unix(5000, 0)
	assert.True(t, tg.Select(now, 30*time.Second))
	assert.True(t, tg.Select(now, 30*time.Second), "selecting an alive target never mutates it")
}

func TestTargetSelectDeadFails(t *testing.T) {
	var tg Target
	now := time.Unix(5000, 0)
	tg.MarkDown(now)
	assert.False(t, tg.Select(now.Add(5*time.Second), 30*time.Second), "still inside the blackout window")
}
