package participant

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

// Set holds the configured participants in declaration order.
type Set struct {
	sources []*Source
	byName  map[string]*Source
}

func NewSet(sources ...*Source) (*Set, error) {
	s := &Set{byName: make(map[string]*Source, len(sources))}
	for _, src := range sources {
		if _, dup := s.byName[src.Name()]; dup {
			return nil, fmt.Errorf("participant %q: %w: duplicate name", src.Name(), apperrors.ErrInvalidInput)
		}
		s.byName[src.Name()] = src
		s.sources = append(s.sources, src)
	}
	return s, nil
}

func (s *Set) Get(name string) (*Source, error) {
	src, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("participant %q: %w", name, apperrors.ErrUnknownParticipant)
	}
	return src, nil
}

func (s *Set) All() []*Source {
	return append([]*Source(nil), s.sources...)
}

// Scope builds the search scope over the named participants, in the given
// order, or over all of them when names is empty. A non-empty prefix limits
// the scope to document paths starting with it.
func (s *Set) Scope(names []string, prefix string) (search.Scope, error) {
	var ps []search.Participant
	if len(names) == 0 {
		for _, src := range s.sources {
			ps = append(ps, src)
		}
	}
	for _, n := range names {
		src, err := s.Get(n)
		if err != nil {
			return nil, err
		}
		ps = append(ps, src)
	}
	if prefix != "" {
		return search.NewPrefixScope(prefix, ps...), nil
	}
	return search.NewAllScope(ps...), nil
}
