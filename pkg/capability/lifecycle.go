package capability

import (
	"sync"

	"github.com/sipeed/execclient/pkg/domain"
)

// State is a plugin's position in its one-way lifecycle.
type State int

const (
	StateNew State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lifecycle guards a plugin against double initialization and use after
// cleanup. The zero value is a new, uninitialized plugin.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// BeginInit moves New to Initializing.
func (l *Lifecycle) BeginInit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateNew:
		l.state = StateInitializing
		return nil
	case StateClosed:
		return domain.ErrPluginClosed
	default:
		return domain.ErrPluginInitialized
	}
}

// EndInit finishes initialization. A failed initialize returns the plugin to
// New so a corrected configuration may retry.
func (l *Lifecycle) EndInit(ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateInitializing {
		return
	}
	if ok {
		l.state = StateReady
	} else {
		l.state = StateNew
	}
}

// Close marks the plugin cleaned up. It reports false if the plugin was not
// ready, so cleanup hooks run at most once.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateReady {
		return false
	}
	l.state = StateClosed
	return true
}

// Ready returns nil only between a successful initialization and cleanup.
func (l *Lifecycle) Ready() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateReady:
		return nil
	case StateClosed:
		return domain.ErrPluginClosed
	default:
		return domain.ErrPluginNotReady
	}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
