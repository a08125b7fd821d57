package connectivity

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// persistedState is the part of the monitor that survives restarts. The
// manual override is a deliberate airplane-mode simulation and must still be
// in effect after the agent comes back up.
type persistedState struct {
	ManualOffline bool `json:"manual_offline"`
}

// Monitor tracks real transport reachability plus the manual override and
// exposes the single effective online boolean. Both inputs push changes
// synchronously; subscribers are only notified when the effective value flips,
// so a flag change that does not change the outcome stays silent.
type Monitor struct {
	mu            sync.Mutex
	reachable     bool
	manualOffline bool
	statePath     string
	subs          map[int]chan bool
	nextSub       int
	log           *logrus.Entry
}

// NewMonitor loads the persisted manual override from statePath. Transport
// reachability starts optimistic; the first probe or request outcome corrects
// it.
func NewMonitor(statePath string, log *logrus.Entry) (*Monitor, error) {
	m := &Monitor{
		reachable: true,
		statePath: statePath,
		subs:      make(map[int]chan bool),
		log:       log,
	}

	data, err := os.ReadFile(statePath)
	if err == nil {
		var state persistedState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to parse connectivity state: %w", err)
		}
		m.manualOffline = state.ManualOffline
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read connectivity state: %w", err)
	}

	return m, nil
}

// EffectivelyOnline is !manualOverride && transportReachable.
func (m *Monitor) EffectivelyOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveLocked()
}

func (m *Monitor) effectiveLocked() bool {
	return !m.manualOffline && m.reachable
}

// ManualOffline reports the current override flag.
func (m *Monitor) ManualOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manualOffline
}

// SetReachable records the transport signal.
func (m *Monitor) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.effectiveLocked()
	m.reachable = reachable
	m.notifyLocked(before)
}

// SetManualOffline persists then applies the override. A failed write leaves
// the previous state in force, so the error the caller reports matches what
// the monitor actually does.
func (m *Monitor) SetManualOffline(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(persistedState{ManualOffline: enabled})
	if err != nil {
		return fmt.Errorf("failed to marshal connectivity state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to persist connectivity state: %w", err)
	}

	before := m.effectiveLocked()
	m.manualOffline = enabled
	m.notifyLocked(before)
	return nil
}

func (m *Monitor) notifyLocked(before bool) {
	after := m.effectiveLocked()
	if after == before {
		return
	}
	if m.log != nil {
		m.log.WithField("online", after).Info("effective connectivity changed")
	}
	for _, ch := range m.subs {
		select {
		case ch <- after:
		default:
			// Subscriber is behind; it will read the latest value on the
			// next flip. Status queries always see current state.
		}
	}
}

// Subscribe returns a channel that receives the new effective value on every
// flip, plus a cancel func.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan bool, 8)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}
