package recovery

import (
	"fmt"
	"sync"
)

// StrictStrategy fails on the first structural error.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// Note is a recorded recovery event, suitable for surfacing to callers as a
// human-readable warning.
type Note struct {
	Location Location
	Err      error
}

func (n Note) String() string {
	if n.Location.ObjectNum != 0 {
		return fmt.Sprintf("%s: object %d %d at offset %d: %v",
			n.Location.Component, n.Location.ObjectNum, n.Location.ObjectGen, n.Location.ByteOffset, n.Err)
	}
	return fmt.Sprintf("%s: offset %d: %v", n.Location.Component, n.Location.ByteOffset, n.Err)
}

// LenientStrategy continues past structural errors, collecting each one as a
// Note. The zero value is ready to use.
type LenientStrategy struct {
	mu    sync.Mutex
	notes []Note
}

func NewLenientStrategy() *LenientStrategy { return &LenientStrategy{} }

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.mu.Lock()
	s.notes = append(s.notes, Note{Location: location, Err: err})
	s.mu.Unlock()
	return ActionWarn
}

// Notes returns a copy of the events recorded so far.
func (s *LenientStrategy) Notes() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Note, len(s.notes))
	copy(out, s.notes)
	return out
}
