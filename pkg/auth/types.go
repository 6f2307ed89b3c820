package auth

// Principal is the interface for any entity making a request (user, service
// account, system).
type Principal interface {
	GetID() string
	GetRoles() []string
	// HasRole checks membership in a named role.
	HasRole(role string) bool
}

// Well-known roles. Role names line up with the engine's authorization
// domains: admin manages everything, the rest gate single capabilities.
const (
	RoleAdmin    = "admin"
	RoleUpdater  = "updater"
	RoleRecorder = "recorder"
	RoleFeeder   = "feeder"
)

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
