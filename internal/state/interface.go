package state

import (
	"io"

	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/pkg/models"
)

// FleetStore handles fleet and story persistence.
type FleetStore interface {
	fleet.Store
	GetFleet(project string) (*FleetRecord, error)
	ListFleets() ([]FleetRecord, error)
	LoadStories(project string) ([]*models.Story, error)
}

// EventStore persists the event stream.
type EventStore interface {
	events.Sink
	LastSeq(project string) (uint64, error)
	Events(project string, since uint64, limit int) ([]events.Event, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// It composes focused sub-interfaces for better modularity.
type StateStore interface {
	io.Closer
	Migrator
	FleetStore
	EventStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore            = (*DB)(nil)
	_ fleet.PersistentStore = (*DB)(nil)
	_ events.Sink           = (*DB)(nil)
)
