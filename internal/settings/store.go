package settings

import "sync"

// State is the change state of a Store.
type State int

const (
	Clean State = iota
	Dirty
)

func (s State) String() string {
	if s == Dirty {
		return "dirty"
	}
	return "clean"
}

// Store holds the one authoritative Settings value of an instance. The lock
// only covers copies in and out.
type Store struct {
	mu      sync.Mutex
	current Settings
	state   State
	applied uint64
}

// NewStore returns a Clean store holding s.
func NewStore(s Settings) *Store {
	return &Store{current: s}
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// Update applies fn to a copy, validates it, and commits it as a whole.
// A successful update marks the store Dirty.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.current
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	st.current = next
	st.state = Dirty
	return nil
}

// Replace swaps in s wholesale. Used for snapshots received from a server.
func (st *Store) Replace(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	st.current = s
	st.state = Dirty
	st.mu.Unlock()
	return nil
}

// OnSettingsChanged marks the store Dirty. Calling it again before the next
// TakeDirty has no further effect.
func (st *Store) OnSettingsChanged() {
	st.mu.Lock()
	st.state = Dirty
	st.mu.Unlock()
}

// TakeDirty moves a Dirty store back to Clean and returns the snapshot to
// apply. ok is false when the store was already Clean.
func (st *Store) TakeDirty() (snapshot Settings, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state != Dirty {
		return st.current, false
	}
	st.state = Clean
	st.applied++
	return st.current, true
}

// State reports the current change state.
func (st *Store) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Applied counts Dirty to Clean transitions. Observers poll it to know when
// to refresh.
func (st *Store) Applied() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.applied
}
