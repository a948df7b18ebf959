package stores

import (
	"context"
	"time"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// Audit actions recorded for every committed mutation.
const (
	ActionCreated           = "solution.created"
	ActionAnswersAccepted   = "answers.accepted"
	ActionGenerationStarted = "generation.started"
	ActionAttemptRecorded   = "generation.attempt"
	ActionManifestGenerated = "manifest.generated"
	ActionGenerationFailed  = "generation.failed"
	ActionDeployed          = "deploy.succeeded"
	ActionDeployFailed      = "deploy.failed"
	ActionUpdated           = "solution.updated"
)

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID         int64         `json:"id"`
	SolutionID string        `json:"solution_id"`
	Action     string        `json:"action"`
	Version    int64         `json:"version"` // record version after the mutation
	Status     engine.Status `json:"status"`
	Stage      engine.Stage  `json:"stage"`
	Details    *string       `json:"details,omitempty"` // JSON blob
	Timestamp  time.Time     `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.RecordStore

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Audit operations
	ListAudit(ctx context.Context, solutionID string, limit int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
	BusyTimeout     time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

const (
	defaultListLimit  = 50
	defaultAuditLimit = 200
)
