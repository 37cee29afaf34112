package search

import "strings"

// Keyed is implemented by scopes whose extent can be described by a string.
// Only searches over keyed scopes are cached.
type Keyed interface {
	CacheKey() string
}

// AllScope contains every document of its participants.
type AllScope struct {
	participants []Participant
}

func NewAllScope(participants ...Participant) *AllScope {
	return &AllScope{participants: participants}
}

func (s *AllScope) Contains(string) bool {
	return true
}

func (s *AllScope) Participants() []Participant {
	return s.participants
}

func (s *AllScope) CacheKey() string {
	return "all:" + participantNames(s.participants)
}

// PrefixScope contains the documents whose path starts with Prefix.
type PrefixScope struct {
	Prefix       string
	participants []Participant
}

func NewPrefixScope(prefix string, participants ...Participant) *PrefixScope {
	return &PrefixScope{Prefix: prefix, participants: participants}
}

func (s *PrefixScope) Contains(path string) bool {
	return strings.HasPrefix(path, s.Prefix)
}

func (s *PrefixScope) Participants() []Participant {
	return s.participants
}

func (s *PrefixScope) CacheKey() string {
	return "prefix:" + s.Prefix + ":" + participantNames(s.participants)
}

func participantNames(ps []Participant) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}
