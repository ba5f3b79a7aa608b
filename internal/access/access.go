// Package access classifies what an actor may do with a single document.
package access

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	// RoleNone is the grant of an actor without a collaborator row.
	RoleNone Role = ""
)

// Capability is ordered: each level includes the ones below it.
type Capability int

const (
	None Capability = iota
	Read
	Write
	Manage
)

func (c Capability) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	case Manage:
		return "manage"
	default:
		return "none"
	}
}

func (c Capability) Allows(required Capability) bool {
	return c >= required
}

// Evaluate returns the actor's capability on a document. grant must be the
// actor's collaborator role on this same document (RoleNone when absent).
// It never fails; callers reject on insufficient capability.
func Evaluate(ownerID, actorID string, grant Role) Capability {
	if actorID == "" {
		return None
	}
	if actorID == ownerID {
		return Manage
	}
	switch grant {
	case RoleEditor:
		return Write
	case RoleViewer:
		return Read
	default:
		return None
	}
}

// RoleOf is the role shown for an actor: the virtual owner role or the grant.
func RoleOf(ownerID, actorID string, grant Role) Role {
	if actorID != "" && actorID == ownerID {
		return RoleOwner
	}
	return grant
}

// ParseGrant validates a role that may be stored on a collaborator row.
func ParseGrant(role string) (Role, bool) {
	switch Role(role) {
	case RoleViewer, RoleEditor:
		return Role(role), true
	default:
		return RoleNone, false
	}
}
