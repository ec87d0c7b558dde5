package provider

import (
	"context"

	"streamwarden/internal/models"
)

// Provider is the per-family adapter normalizing one backend's native API
// into canonical records. Every variant implements the full set; callers of
// the listing operations treat errors as "this backend contributes nothing
// this cycle" and never let one backend's failure abort the others.
type Provider interface {
	Name() string
	Family() models.Family
	BackendID() int64

	// Connect verifies reachability and auth. An unreachable or rejecting
	// backend is an expected condition and returns false, not an error.
	Connect(ctx context.Context) bool

	AuthenticateUser(ctx context.Context, username, password string) (*models.UserAuthResult, error)

	ListActiveSessions(ctx context.Context) ([]models.LiveSession, error)
	ListUsers(ctx context.Context) ([]models.LiveUser, error)

	// TerminateSession attempts the family's known termination mechanisms in
	// priority order and, where the backend allows it, re-polls sessions to
	// confirm the session is gone before reporting success.
	TerminateSession(ctx context.Context, sessionID, message string) (bool, error)

	// VersionInfo is best-effort: on failure it returns the unknown sentinel
	// rather than an error.
	VersionInfo(ctx context.Context) models.VersionInfo

	ListLibraries(ctx context.Context) ([]models.Library, error)
	SetLibraryAccess(ctx context.Context, userID string, libraryIDs []string) (bool, error)
	MediaInfo(ctx context.Context, itemID string) (*models.MediaInfo, error)
}
