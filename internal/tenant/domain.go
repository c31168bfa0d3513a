package tenant

import "time"

// Tenant is the root isolation unit; every tenant-scoped row references one.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
