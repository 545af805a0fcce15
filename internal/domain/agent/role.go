package agent

import (
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
)

// Role is the closed set of agent specializations.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
	RoleScout       Role = "scout"
	RoleGuardian    Role = "guardian"
	RoleArchitect   Role = "architect"
	RoleAnalyst     Role = "analyst"
)

// ErrInvalidRole is returned for roles outside the closed set.
var ErrInvalidRole = errors.New("invalid role: must be coordinator, worker, scout, guardian, architect, or analyst")

// Profile describes what a role brings to the pool.
type Profile interface {
	Role() Role
	BaseCapabilities() []string
	// Votes reports whether agents of this role are eligible consensus
	// voters. Scouts report findings but do not vote.
	Votes() bool
}

type profile struct {
	role  Role
	caps  []string
	votes bool
}

func (p profile) Role() Role                 { return p.role }
func (p profile) BaseCapabilities() []string { return p.caps }
func (p profile) Votes() bool                { return p.votes }

var profiles = map[Role]profile{
	RoleCoordinator: {RoleCoordinator, []string{"planning", "coordination"}, true},
	RoleWorker:      {RoleWorker, []string{"implementation"}, true},
	RoleScout:       {RoleScout, []string{"research", "exploration"}, false},
	RoleGuardian:    {RoleGuardian, []string{"review", "testing"}, true},
	RoleArchitect:   {RoleArchitect, []string{"design", "planning"}, true},
	RoleAnalyst:     {RoleAnalyst, []string{"analysis", "research"}, true},
}

// ProfileOf returns the profile for a role.
func ProfileOf(r Role) (Profile, error) {
	p, ok := profiles[r]
	if !ok {
		return nil, ErrInvalidRole
	}
	return p, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := profiles[r]
	return ok
}

// CapabilitySet builds the capability set for a role plus extra capabilities.
func CapabilitySet(r Role, extra ...string) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	if p, ok := profiles[r]; ok {
		s.Append(p.caps...)
	}
	s.Append(extra...)
	return s
}
