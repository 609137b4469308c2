// Package viewstate holds local, unreplicated UI state: which files are
// open as tabs, which one is active, and a few panel toggles.
//
// State changes go through Reduce, a pure function. Store wraps it for
// callers that want a mutable handle. Neither subscribes to the document;
// pruning tabs for nodes deleted remotely is the caller's job (Reconcile).
package viewstate

import "slices"

// State is the complete view state of one client.
type State struct {
	// OpenIDs are the open tabs, left to right, without duplicates.
	OpenIDs []string `json:"openIds"`
	// ActiveID is empty or a member of OpenIDs.
	ActiveID string `json:"activeId"`

	ExplorerVisible bool   `json:"explorerVisible"`
	PreviewVisible  bool   `json:"previewVisible"`
	LoginModalOpen  bool   `json:"loginModalOpen"`
	User            string `json:"user,omitempty"`
}

// Initial returns the state of a fresh client.
func Initial() State {
	return State{OpenIDs: []string{}, ExplorerVisible: true, PreviewVisible: true}
}

// ActionType names a state transition.
type ActionType string

const (
	ActionOpen           ActionType = "open"
	ActionClose          ActionType = "close"
	ActionSetActive      ActionType = "set_active"
	ActionToggleExplorer ActionType = "toggle_explorer"
	ActionTogglePreview  ActionType = "toggle_preview"
	ActionShowLogin      ActionType = "show_login"
	ActionHideLogin      ActionType = "hide_login"
	ActionLogin          ActionType = "login"
	ActionLogout         ActionType = "logout"
)

// Action is one user intent. ID is the node id for tab actions, User the
// display name for ActionLogin.
type Action struct {
	Type ActionType `yaml:"type" json:"type"`
	ID   string     `yaml:"id,omitempty" json:"id,omitempty"`
	User string     `yaml:"user,omitempty" json:"user,omitempty"`
}

// Reduce returns the state after a. It never modifies s. Unknown action
// types return s unchanged.
func Reduce(s State, a Action) State {
	next := s
	next.OpenIDs = slices.Clone(s.OpenIDs)
	if next.OpenIDs == nil {
		next.OpenIDs = []string{}
	}

	switch a.Type {
	case ActionOpen:
		if a.ID == "" {
			return next
		}
		if !slices.Contains(next.OpenIDs, a.ID) {
			next.OpenIDs = append(next.OpenIDs, a.ID)
		}
		next.ActiveID = a.ID
	case ActionClose:
		next = closeTab(next, a.ID)
	case ActionSetActive:
		if a.ID == "" || slices.Contains(next.OpenIDs, a.ID) {
			next.ActiveID = a.ID
		}
	case ActionToggleExplorer:
		next.ExplorerVisible = !next.ExplorerVisible
	case ActionTogglePreview:
		next.PreviewVisible = !next.PreviewVisible
	case ActionShowLogin:
		next.LoginModalOpen = true
	case ActionHideLogin:
		next.LoginModalOpen = false
	case ActionLogin:
		if a.User != "" {
			next.User = a.User
			next.LoginModalOpen = false
		}
	case ActionLogout:
		next.User = ""
	}
	return next
}

// closeTab removes id. If it was active, the tab to its left becomes
// active, else the new leftmost tab, else nothing.
func closeTab(s State, id string) State {
	idx := slices.Index(s.OpenIDs, id)
	if idx < 0 {
		return s
	}
	s.OpenIDs = slices.Delete(s.OpenIDs, idx, idx+1)
	if s.ActiveID != id {
		return s
	}
	switch {
	case idx > 0:
		s.ActiveID = s.OpenIDs[idx-1]
	case len(s.OpenIDs) > 0:
		s.ActiveID = s.OpenIDs[0]
	default:
		s.ActiveID = ""
	}
	return s
}

// Reconcile closes every tab whose node is not live, in tab order, with the
// same active-tab rules as a user close.
func Reconcile(s State, live func(id string) bool) State {
	next := s
	for _, id := range s.OpenIDs {
		if !live(id) {
			next = Reduce(next, Action{Type: ActionClose, ID: id})
		}
	}
	return next
}

// Store is a mutable holder for State. Not safe for concurrent use; it
// belongs to the goroutine that handles user input.
type Store struct {
	state State
	subs  []func(State)
}

// NewStore creates a store in the Initial state.
func NewStore() *Store {
	return &Store{state: Initial()}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	st := s.state
	st.OpenIDs = slices.Clone(s.state.OpenIDs)
	return st
}

// Dispatch applies a and notifies subscribers if anything changed.
func (s *Store) Dispatch(a Action) State {
	return s.set(Reduce(s.state, a))
}

// Reconcile prunes tabs of nodes that are no longer live.
func (s *Store) Reconcile(live func(id string) bool) State {
	return s.set(Reconcile(s.state, live))
}

func (s *Store) set(next State) State {
	if equal(s.state, next) {
		return s.State()
	}
	s.state = next
	for _, fn := range s.subs {
		fn(s.State())
	}
	return s.State()
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(State)) {
	s.subs = append(s.subs, fn)
}

// Open opens id as a tab and activates it.
func (s *Store) Open(id string) State { return s.Dispatch(Action{Type: ActionOpen, ID: id}) }

// Close closes the tab for id.
func (s *Store) Close(id string) State { return s.Dispatch(Action{Type: ActionClose, ID: id}) }

// SetActive activates an open tab. An id that is not open is ignored;
// "" clears the selection.
func (s *Store) SetActive(id string) State {
	return s.Dispatch(Action{Type: ActionSetActive, ID: id})
}

func equal(a, b State) bool {
	return slices.Equal(a.OpenIDs, b.OpenIDs) &&
		a.ActiveID == b.ActiveID &&
		a.ExplorerVisible == b.ExplorerVisible &&
		a.PreviewVisible == b.PreviewVisible &&
		a.LoginModalOpen == b.LoginModalOpen &&
		a.User == b.User
}
