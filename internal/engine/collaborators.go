package engine

import (
	"context"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
)

//go:generate mockgen -source=collaborators.go -destination=mocks/collaborators.go -package=mocks

// PermissionGate decides whether actor may perform action in module.
// It is consulted before any state is read.
type PermissionGate interface {
	IsAllowed(ctx context.Context, actor attendance.Actor, module attendance.Module, action string) bool
}

// AuditRecorder receives the audit entries the engine emits.
// Implemented by *audit.Log.
type AuditRecorder interface {
	Record(ctx context.Context, in audit.Input) (audit.Entry, error)
}

var _ AuditRecorder = (*audit.Log)(nil)
