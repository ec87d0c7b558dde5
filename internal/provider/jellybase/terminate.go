package jellybase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"streamwarden/internal/models"
)

// The stop endpoints changed across server generations and the older ones
// answer with a spread of status codes without actually guaranteeing the
// player stopped. Success here is only claimed after the verification
// re-poll shows the session gone.
func terminationPaths(sessionID string) []string {
	return []string{
		"/Sessions/" + sessionID + "/Playing/Stop",
		"/Sessions/" + sessionID + "/Command/Stop",
	}
}

func acceptedStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}

func (c *Client) TerminateSession(ctx context.Context, sessionID, message string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("%w: empty session id", models.ErrTermination)
	}

	// Best-effort on-screen message before the kill; players that ignore it
	// lose nothing.
	if message != "" {
		payload := map[string]any{"Text": message, "Header": "Playback stopped", "TimeoutMs": 10000}
		if _, err := c.post(ctx, "/Sessions/"+sessionID+"/Message", payload); err != nil {
			slog.Debug("session message failed", "family", c.family, "session", sessionID, "error", err)
		}
	}

	accepted := false
	for _, path := range terminationPaths(sessionID) {
		if err := c.termLimiter.Wait(ctx); err != nil {
			return false, err
		}
		status, err := c.post(ctx, path, nil)
		if err != nil {
			slog.Debug("termination request failed", "family", c.family, "session", sessionID, "error", err)
			continue
		}
		if acceptedStatus(status) {
			accepted = true
			break
		}
		slog.Debug("termination endpoint rejected", "family", c.family, "path", path, "status", status)
	}
	if !accepted {
		return false, fmt.Errorf("%w: no termination endpoint accepted session %s", models.ErrTermination, sessionID)
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(c.verifyDelay):
	}

	sessions, err := c.ListActiveSessions(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: verification poll failed: %v", models.ErrTermination, err)
	}
	for _, s := range sessions {
		if s.SessionID == sessionID {
			return false, fmt.Errorf("%w: session %s still active after stop", models.ErrTermination, sessionID)
		}
	}
	return true, nil
}
