// Package registry holds the static catalog of worker roles.
//
// A role is an immutable capability profile: the artifact kinds a session
// receives in its snapshot, the actions it may perform, and the rule-set
// bundles the worker is expected to load. The table is built once at process
// start and never written afterwards, so lookups need no locking.
//
// Only the coordinator role holds CapTransition and CapSpawn. Every other
// role is denied both by construction.
package registry

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
)

// Capability is a single permitted action.
type Capability string

const (
	CapRead           Capability = "read"
	CapWriteNew       Capability = "write-new-file"
	CapMutateDocument Capability = "mutate-document"
	CapRunChecks      Capability = "run-checks"
	CapTransition     Capability = "transition"
	CapSpawn          Capability = "spawn"
)

// Role names.
const (
	RoleCoordinator   = "coordinator"
	RoleReviewer      = "reviewer"
	RoleDocumentation = "documentation"
	RoleImplementer   = "implementer"
	RoleVerifier      = "verifier"
)

// ErrRoleNotFound is returned for names not in the table.
var ErrRoleNotFound = faults.New("role not found", faults.CodeNotFound, faults.ClassProtocol)

// CapabilityViolationError reports an action attempted without the
// capability it requires.
type CapabilityViolationError struct {
	Role       string
	Capability Capability
	Action     string
}

func (e *CapabilityViolationError) Error() string {
	return fmt.Sprintf("role %s lacks %s for %s", e.Role, e.Capability, e.Action)
}

func (e *CapabilityViolationError) Code() string        { return faults.CodeCapabilityViolation }
func (e *CapabilityViolationError) Class() faults.Class { return faults.ClassCapability }

// Role is an immutable role definition. Use the accessor methods; the
// returned slices are copies.
type Role struct {
	name     string
	caps     map[Capability]struct{}
	inputs   []docstore.ArtifactKind
	rulesets []string
}

// Name returns the role name.
func (r Role) Name() string { return r.name }

// Can reports whether the role holds capability c.
func (r Role) Can(c Capability) bool {
	_, ok := r.caps[c]
	return ok
}

// Check returns a *CapabilityViolationError when the role lacks c.
func (r Role) Check(c Capability, action string) error {
	if r.Can(c) {
		return nil
	}
	return &CapabilityViolationError{Role: r.name, Capability: c, Action: action}
}

// Capabilities returns the held capabilities in sorted order.
func (r Role) Capabilities() []Capability {
	out := make([]Capability, 0, len(r.caps))
	for c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequiredInputs returns the artifact kinds copied into the session snapshot.
func (r Role) RequiredInputs() []docstore.ArtifactKind {
	return append([]docstore.ArtifactKind(nil), r.inputs...)
}

// RuleSets returns the rule-set references for the role.
func (r Role) RuleSets() []string {
	return append([]string(nil), r.rulesets...)
}

// definition is a row of the fixed role table.
type definition struct {
	name     string
	caps     []Capability
	inputs   []docstore.ArtifactKind
	rulesets []string
}

var table = []definition{
	{
		name: RoleCoordinator,
		caps: []Capability{CapRead, CapWriteNew, CapMutateDocument, CapRunChecks, CapTransition, CapSpawn},
	},
	{
		name:     RoleReviewer,
		caps:     []Capability{CapRead, CapWriteNew, CapMutateDocument},
		inputs:   []docstore.ArtifactKind{docstore.ArtifactRequirements},
		rulesets: []string{"rules/review", "rules/requirements"},
	},
	{
		name:     RoleDocumentation,
		caps:     []Capability{CapRead},
		inputs:   []docstore.ArtifactKind{docstore.ArtifactRequirements, docstore.ArtifactLearnings},
		rulesets: []string{"rules/documentation"},
	},
	{
		name:     RoleImplementer,
		caps:     []Capability{CapRead, CapWriteNew, CapMutateDocument, CapRunChecks},
		inputs:   []docstore.ArtifactKind{docstore.ArtifactRequirements, docstore.ArtifactLearnings},
		rulesets: []string{"rules/implementation", "rules/testing"},
	},
	{
		name:     RoleVerifier,
		caps:     []Capability{CapRead, CapWriteNew, CapMutateDocument, CapRunChecks},
		inputs:   []docstore.ArtifactKind{docstore.ArtifactRequirements, docstore.ArtifactReport},
		rulesets: []string{"rules/verification"},
	},
}

// Registry resolves role names to definitions.
type Registry struct {
	roles map[string]Role
}

// New builds the registry from the fixed role table.
func New() *Registry {
	roles := make(map[string]Role, len(table))
	for _, def := range table {
		caps := make(map[Capability]struct{}, len(def.caps))
		for _, c := range def.caps {
			caps[c] = struct{}{}
		}
		roles[def.name] = Role{
			name:     def.name,
			caps:     caps,
			inputs:   append([]docstore.ArtifactKind(nil), def.inputs...),
			rulesets: append([]string(nil), def.rulesets...),
		}
	}
	return &Registry{roles: roles}
}

// Resolve returns the role registered under name.
func (r *Registry) Resolve(name string) (Role, error) {
	role, ok := r.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
	}
	return role, nil
}

// MustResolve is Resolve for names known at compile time.
func (r *Registry) MustResolve(name string) Role {
	role, err := r.Resolve(name)
	if err != nil {
		panic(err)
	}
	return role
}

// Names returns all role names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
