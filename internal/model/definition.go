// internal/model/definition.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// DefinitionSource records where a stored driver definition came from
type DefinitionSource string

const (
	DefinitionSourceAPI  DefinitionSource = "api"
	DefinitionSourceFile DefinitionSource = "file"
)

// Definition is a persisted driver definition document
type Definition struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	DisplayName string           `json:"display_name" db:"display_name"`
	Document    JSONDocument     `json:"document" db:"document"`
	Source      DefinitionSource `json:"source" db:"source"`
	MatchVID    *int             `json:"match_vid,omitempty" db:"match_vid"`
	MatchPID    *int             `json:"match_pid,omitempty" db:"match_pid"`
	MatchSerial *string          `json:"match_serial,omitempty" db:"match_serial"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// ActionReportRecord is a persisted interpreter report
type ActionReportRecord struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	DefinitionID uuid.UUID    `json:"definition_id" db:"definition_id"`
	Kind         string       `json:"kind" db:"kind"`
	Name         string       `json:"name" db:"name"`
	Outcomes     JSONDocument `json:"outcomes" db:"outcomes"`
	Failed       int          `json:"failed" db:"failed"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}
