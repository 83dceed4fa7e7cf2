// internal/repository/report_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maus-bus/internal/database"
	"maus-bus/internal/model"
)

// reportRepository implements ReportRepository interface
type reportRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReportRepository creates a new action report repository
func NewReportRepository(db *database.DB, logger *zap.Logger) ReportRepository {
	return &reportRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores an action report
func (r *reportRepository) Create(ctx context.Context, report *model.ActionReportRecord) error {
	query := `
		INSERT INTO action_reports (id, definition_id, kind, name, outcomes, failed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		report.ID, report.DefinitionID, report.Kind, report.Name,
		report.Outcomes, report.Failed,
	).Scan(&report.CreatedAt)

	if err != nil {
		r.logger.Error("Failed to store action report", zap.Error(err), zap.String("definition_id", report.DefinitionID.String()))
		return fmt.Errorf("failed to store action report: %w", err)
	}
	return nil
}

// ListByDefinition returns the newest reports for a definition
func (r *reportRepository) ListByDefinition(ctx context.Context, definitionID uuid.UUID, limit int) ([]*model.ActionReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, definition_id, kind, name, outcomes, failed, created_at
		FROM action_reports
		WHERE definition_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, definitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list action reports: %w", err)
	}
	defer rows.Close()

	reports := []*model.ActionReportRecord{}
	for rows.Next() {
		rec := &model.ActionReportRecord{}
		err := rows.Scan(
			&rec.ID, &rec.DefinitionID, &rec.Kind, &rec.Name,
			&rec.Outcomes, &rec.Failed, &rec.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan action report", zap.Error(err))
			continue
		}
		reports = append(reports, rec)
	}
	return reports, rows.Err()
}

// DeleteOlderThan removes reports created before olderThan
func (r *reportRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM action_reports WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old action reports: %w", err)
	}
	return result.RowsAffected()
}
