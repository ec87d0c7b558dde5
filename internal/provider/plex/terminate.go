package plex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"streamwarden/internal/httputil"
	"streamwarden/internal/models"
)

// Termination endpoints in priority order. Newer servers accept the first;
// the transcode-stop fallback covers servers that predate it.
func (c *Client) terminationURLs(sessionID, message string) []string {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	if message != "" {
		q.Set("reason", message)
	}
	return []string{
		c.url + "/status/sessions/terminate?" + q.Encode(),
		c.url + "/video/:/transcode/universal/stop?session=" + url.QueryEscape(sessionID),
	}
}

// TerminateSession kills a playback session and re-polls the session list
// to confirm it actually disappeared. A session that survives the re-poll
// is reported as a termination failure even if the kill endpoint said OK.
func (c *Client) TerminateSession(ctx context.Context, sessionID, message string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("%w: empty session id", models.ErrTermination)
	}

	accepted := false
	for _, u := range c.terminationURLs(sessionID, message) {
		if err := c.termLimiter.Wait(ctx); err != nil {
			return false, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return false, err
		}
		c.setHeaders(req)
		resp, err := c.client.Do(req)
		if err != nil {
			slog.Debug("plex: termination request failed", "backend", c.backendName, "error", err)
			continue
		}
		httputil.DrainBody(resp)
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted ||
			resp.StatusCode == http.StatusNoContent {
			accepted = true
			break
		}
		slog.Debug("plex: termination endpoint rejected", "backend", c.backendName, "status", resp.StatusCode)
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
		// The kill was accepted but we cannot confirm; report failure so the
		// policy engine retries next cycle.
		return false, fmt.Errorf("%w: verification poll failed: %v", models.ErrTermination, err)
	}
	for _, s := range sessions {
		if s.SessionID == sessionID {
			return false, fmt.Errorf("%w: session %s still active after terminate", models.ErrTermination, sessionID)
		}
	}
	return true, nil
}
