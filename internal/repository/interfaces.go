// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"maus-bus/internal/model"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("repository: not found")

// DefinitionRepository defines driver definition data access operations
type DefinitionRepository interface {
	Create(ctx context.Context, def *model.Definition) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Definition, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns definitions oldest first, which is the load order.
	List(ctx context.Context) ([]*model.Definition, error)

	// Variables persist interpreter state across restarts
	SaveVariables(ctx context.Context, id uuid.UUID, vars map[string]int) error
	LoadVariables(ctx context.Context, id uuid.UUID) (map[string]int, error)
}

// ReportRepository defines action report data access operations
type ReportRepository interface {
	Create(ctx context.Context, report *model.ActionReportRecord) error
	ListByDefinition(ctx context.Context, definitionID uuid.UUID, limit int) ([]*model.ActionReportRecord, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}
