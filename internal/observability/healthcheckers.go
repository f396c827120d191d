package observability

import (
	"context"
	"fmt"
)

// Pinger is implemented by stores that can verify they are usable.
type Pinger interface {
	Ping() error
}

// DatabaseHealthChecker checks the instance store
type DatabaseHealthChecker struct {
	name string
	db   Pinger
}

// NewDatabaseHealthChecker creates a new database health checker
func NewDatabaseHealthChecker(name string, db Pinger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		name: name,
		db:   db,
	}
}

// Name returns the name of the health checker
func (dhc *DatabaseHealthChecker) Name() string {
	return dhc.name
}

// HealthCheck performs a read transaction against the store
func (dhc *DatabaseHealthChecker) HealthCheck(_ context.Context) error {
	if dhc.db == nil {
		return fmt.Errorf("database is nil")
	}
	return dhc.db.Ping()
}

var _ HealthChecker = (*DatabaseHealthChecker)(nil)
