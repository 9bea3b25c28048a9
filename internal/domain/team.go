package domain

import (
	"regexp"
	"time"
)

// ReservedSubdomain is the root-tenant label that never resolves to a team.
const ReservedSubdomain = "www"

var subdomainPattern = regexp.MustCompile(`^[0-9a-z-]+$`)

// ValidSubdomain reports whether s is a usable subdomain label:
// non-empty, lowercase alphanumerics and dashes only.
func ValidSubdomain(s string) bool {
	return subdomainPattern.MatchString(s)
}

// Team is an immutable snapshot of a tenant row. Mutations go through
// the team service, which persists the change and returns a fresh
// snapshot; existing snapshots are never updated in place.
type Team struct {
	ID         int64
	Subdomain  string
	CustomerID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Customer returns the external billing reference, empty when the team
// has never been attached to a billing customer.
func (t *Team) Customer() string {
	if t.CustomerID == nil {
		return ""
	}
	return *t.CustomerID
}

// TenantInfo is the request-scoped tenant identity attached by the
// tenant resolution middleware.
type TenantInfo struct {
	ID        int64
	Subdomain string
}
