/*

Pool cycle manager. Every pool runs a recurring Open/Locked window that gates
deposits, withdrawals and protection sales. Transitions are computed lazily:
callers refresh a pool's cycle before any operation that depends on it, and
nothing ever fires on a timer.

*/

package cycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parapet-finance/parapet/internal/logger"
	"github.com/parapet-finance/parapet/internal/types"
)

var (
	ErrPoolNotRegistered     = errors.New("pool has no registered cycle")
	ErrPoolAlreadyRegistered = errors.New("pool cycle already registered")
	ErrOpenExceedsCycle      = errors.New("open duration exceeds cycle duration")
	ErrInvalidCycleParams    = errors.New("cycle durations must be positive")
)

// Manager owns the cycle state of every registered pool.
type Manager struct {
	mu     sync.Mutex
	cycles map[types.PoolID]*types.PoolCycle
	now    func() time.Time
	log    zerolog.Logger
}

// NewManager creates a cycle manager. A nil clock defaults to time.Now.
func NewManager(clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		cycles: make(map[types.PoolID]*types.PoolCycle),
		now:    clock,
		log:    logger.GetForComponent("cycle_manager"),
	}
}

// Register starts cycle zero for a pool in the Open state.
func (m *Manager) Register(id types.PoolID, params types.PoolCycleParams) error {
	if params.OpenDuration <= 0 || params.CycleDuration <= 0 {
		return fmt.Errorf("%w: open=%s cycle=%s", ErrInvalidCycleParams, params.OpenDuration, params.CycleDuration)
	}
	if params.OpenDuration > params.CycleDuration {
		return fmt.Errorf("%w: open=%s cycle=%s", ErrOpenExceedsCycle, params.OpenDuration, params.CycleDuration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cycles[id]; exists {
		return fmt.Errorf("%w: pool %d", ErrPoolAlreadyRegistered, id)
	}

	m.cycles[id] = &types.PoolCycle{
		Params:    params,
		Index:     0,
		StartedAt: m.now(),
		State:     types.CycleOpen,
	}

	m.log.Info().
		Uint64("pool", uint64(id)).
		Dur("openDuration", params.OpenDuration).
		Dur("cycleDuration", params.CycleDuration).
		Msg("Registered pool cycle")
	return nil
}

// Refresh advances a pool's cycle to where the clock says it should be and
// returns the resulting cycle. Refreshing an up-to-date cycle is a no-op.
func (m *Manager) Refresh(id types.PoolID) (types.PoolCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cycles[id]
	if !ok {
		return types.PoolCycle{}, fmt.Errorf("%w: pool %d", ErrPoolNotRegistered, id)
	}

	now := m.now()
	for {
		switch {
		case c.State == types.CycleOpen && c.OpenExpired(now):
			c.State = types.CycleLocked
			m.log.Debug().
				Uint64("pool", uint64(id)).
				Uint64("cycle", c.Index).
				Msg("Cycle open window closed")
		case c.State == types.CycleLocked && c.Expired(now):
			c.Index++
			c.StartedAt = now
			c.State = types.CycleOpen
			m.log.Info().
				Uint64("pool", uint64(id)).
				Uint64("cycle", c.Index).
				Msg("Started new pool cycle")
		default:
			return *c, nil
		}
	}
}

// Current returns a pool's cycle without advancing it.
func (m *Manager) Current(id types.PoolID) (types.PoolCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cycles[id]
	if !ok {
		return types.PoolCycle{}, fmt.Errorf("%w: pool %d", ErrPoolNotRegistered, id)
	}
	return *c, nil
}
