// internal/repository/definition_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maus-bus/internal/database"
	"maus-bus/internal/model"
)

// definitionRepository implements DefinitionRepository interface
type definitionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *database.DB, logger *zap.Logger) DefinitionRepository {
	return &definitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new definition
func (r *definitionRepository) Create(ctx context.Context, def *model.Definition) error {
	query := `
		INSERT INTO driver_definitions (
			id, display_name, document, source, match_vid, match_pid, match_serial
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		def.ID, def.DisplayName, def.Document, def.Source,
		def.MatchVID, def.MatchPID, def.MatchSerial,
	).Scan(&def.CreatedAt, &def.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create definition", zap.Error(err), zap.String("id", def.ID.String()))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	r.logger.Info("Definition stored", zap.String("id", def.ID.String()), zap.String("display_name", def.DisplayName))
	return nil
}

// GetByID retrieves a definition by its UUID
func (r *definitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Definition, error) {
	query := `
		SELECT id, display_name, document, source, match_vid, match_pid, match_serial,
			   created_at, updated_at
		FROM driver_definitions WHERE id = $1
	`

	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: definition %s", ErrNotFound, id)
		}
		r.logger.Error("Failed to get definition", zap.Error(err), zap.String("id", id.String()))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// Delete removes a definition and its variables
func (r *definitionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM driver_definitions WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete definition", zap.Error(err), zap.String("id", id.String()))
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: definition %s", ErrNotFound, id)
	}

	r.logger.Info("Definition deleted", zap.String("id", id.String()))
	return nil
}

// List returns every definition, oldest first
func (r *definitionRepository) List(ctx context.Context) ([]*model.Definition, error) {
	query := `
		SELECT id, display_name, document, source, match_vid, match_pid, match_serial,
			   created_at, updated_at
		FROM driver_definitions
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	defs := []*model.Definition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			r.logger.Error("Failed to scan definition", zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}
	return defs, nil
}

// SaveVariables replaces the stored variables of a definition
func (r *definitionRepository) SaveVariables(ctx context.Context, id uuid.UUID, vars map[string]int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM driver_variables WHERE definition_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear variables: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO driver_variables (definition_id, name, value) VALUES ($1, $2, $3)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare variable insert: %w", err)
	}
	defer stmt.Close()

	for name, value := range vars {
		if _, err := stmt.ExecContext(ctx, id, name, value); err != nil {
			return fmt.Errorf("failed to store variable %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit variables: %w", err)
	}

	r.logger.Debug("Variables saved", zap.String("id", id.String()), zap.Int("count", len(vars)))
	return nil
}

// LoadVariables returns the stored variables of a definition
func (r *definitionRepository) LoadVariables(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, value FROM driver_variables WHERE definition_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load variables: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]int)
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		vars[name] = value
	}
	return vars, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*model.Definition, error) {
	def := &model.Definition{}
	err := row.Scan(
		&def.ID, &def.DisplayName, &def.Document, &def.Source,
		&def.MatchVID, &def.MatchPID, &def.MatchSerial,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return def, nil
}
