package api

import (
	"fmt"
	"slices"
	"strings"
)

// SecurityPolicy authorizes a user (and their groups) against the
// potential owners declared in a work item's parameters.
//
// ActorId and GroupId parameters hold comma-separated lists. A work item
// that declares neither is open to everyone. Once claimed, only the actual
// owner passes.
type SecurityPolicy struct {
	User   string
	Groups []string
}

// NewSecurityPolicy returns a policy for user and groups.
func NewSecurityPolicy(user string, groups ...string) SecurityPolicy {
	return SecurityPolicy{User: user, Groups: groups}
}

func (p SecurityPolicy) Enforce(wi *WorkItem) error {
	if owner, ok := wi.Parameters[ParamOwner].(string); ok && owner != "" {
		if owner == p.User {
			return nil
		}
		return fmt.Errorf("%w: work item %s is owned by %s", ErrNotAuthorized, wi.ID, owner)
	}

	actors := splitList(wi.Parameters[ParamActorID])
	groups := splitList(wi.Parameters[ParamGroupID])
	if len(actors) == 0 && len(groups) == 0 {
		return nil
	}
	if slices.Contains(actors, p.User) {
		return nil
	}
	for _, g := range p.Groups {
		if slices.Contains(groups, g) {
			return nil
		}
	}
	return fmt.Errorf("%w: user %s on work item %s", ErrNotAuthorized, p.User, wi.ID)
}

func splitList(v any) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EnforceAll applies every policy to wi and returns the first violation.
func EnforceAll(wi *WorkItem, policies ...Policy) error {
	for _, p := range policies {
		if p == nil {
			continue
		}
		if err := p.Enforce(wi); err != nil {
			return err
		}
	}
	return nil
}
