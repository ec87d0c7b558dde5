// Package policy implements the termination policy engine: it watches each
// collection cycle's merged session list for transcodes that downgrade a
// high-quality source, waits out a grace period, terminates through the
// owning provider, and suppresses repeat kills with a cooldown.
package policy

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"streamwarden/internal/models"
	"streamwarden/internal/provider"
	"streamwarden/internal/provider/normalize"
)

// ProviderSource resolves the provider owning a backend. The sessions cache
// satisfies this.
type ProviderSource interface {
	Provider(backendID int64) (provider.Provider, bool)
}

// AuditSink records one entry per termination attempt. The store satisfies
// this; tests use an in-memory sink.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry *models.AuditEntry) error
}

type sessionKey struct {
	backendID int64
	sessionID string
}

type cooldownKey struct {
	backendID int64
	userName  string
	title     string
}

// Engine tracks rule-violating sessions across cycles. All state lives in
// two maps behind one lock: first-observed times keyed per session, and
// cooldown expiries keyed per (backend, user, title).
type Engine struct {
	providers ProviderSource
	audit     AuditSink
	now       func() time.Time

	mu       sync.Mutex
	config   models.PolicyConfig
	observed map[sessionKey]time.Time
	cooldown map[cooldownKey]time.Time
}

func NewEngine(providers ProviderSource, audit AuditSink, config models.PolicyConfig) *Engine {
	if config.SourceMinHeight == 0 {
		config.SourceMinHeight = models.DefaultPolicyConfig().SourceMinHeight
	}
	if config.DeliveredMaxHeight == 0 {
		config.DeliveredMaxHeight = models.DefaultPolicyConfig().DeliveredMaxHeight
	}
	if config.GracePeriod == 0 {
		config.GracePeriod = models.DefaultPolicyConfig().GracePeriod
	}
	if config.Cooldown == 0 {
		config.Cooldown = models.DefaultPolicyConfig().Cooldown
	}
	return &Engine{
		providers: providers,
		audit:     audit,
		now:       time.Now,
		config:    config,
		observed:  make(map[sessionKey]time.Time),
		cooldown:  make(map[cooldownKey]time.Time),
	}
}

// SetConfig swaps the active rule. An updated rule applies from the next
// cycle; existing grace timers survive only if their sessions still match.
func (e *Engine) SetConfig(config models.PolicyConfig) {
	e.mu.Lock()
	e.config = config
	e.mu.Unlock()
}

func (e *Engine) Config() models.PolicyConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// matches reports whether a session violates the rule: transcoding a source
// at or above SourceMinHeight down to at or below DeliveredMaxHeight. An
// unknown delivered resolution never matches.
func matches(config models.PolicyConfig, s models.LiveSession) bool {
	if s.Decision != models.DecisionTranscode {
		return false
	}
	src := normalize.Height(s.SourceResolution)
	delivered := normalize.Height(s.StreamResolution)
	return src >= config.SourceMinHeight && delivered > 0 && delivered <= config.DeliveredMaxHeight
}

// Evaluate runs one cycle of the state machine against the merged session
// list. It is called synchronously from the sessions cache hook, so it sees
// a consistent snapshot and cannot race the next poll.
func (e *Engine) Evaluate(ctx context.Context, sessions []models.LiveSession) {
	e.mu.Lock()
	config := e.config
	now := e.now()

	if !config.Enabled {
		// A disabled policy forgets its grace timers so re-enabling
		// starts every session from scratch.
		e.observed = make(map[sessionKey]time.Time)
		e.mu.Unlock()
		return
	}

	for k, until := range e.cooldown {
		if now.After(until) {
			delete(e.cooldown, k)
		}
	}

	type candidate struct {
		session models.LiveSession
		since   time.Time
	}
	var eligible []candidate

	violating := make(map[sessionKey]struct{})
	for _, s := range sessions {
		if !config.Enrolled(s.BackendID) || !matches(config, s) {
			continue
		}
		key := sessionKey{s.BackendID, s.SessionID}
		ck := cooldownKey{s.BackendID, s.UserName, s.FullTitle}
		if until, ok := e.cooldown[ck]; ok && now.Before(until) {
			continue
		}
		violating[key] = struct{}{}
		since, ok := e.observed[key]
		if !ok {
			e.observed[key] = now
			continue
		}
		if now.Sub(since) >= config.GracePeriod {
			eligible = append(eligible, candidate{session: s, since: since})
		}
	}

	// Sessions that disappeared, stopped matching, or fell under cooldown
	// reset to unseen.
	for k := range e.observed {
		if _, ok := violating[k]; !ok {
			delete(e.observed, k)
		}
	}
	e.mu.Unlock()

	for _, c := range eligible {
		e.terminate(ctx, config, c.session)
	}
}

// terminate issues the kill and, only on verified success, records the
// cooldown and drops the grace entry. Failure leaves the entry in place so
// the next cycle retries.
func (e *Engine) terminate(ctx context.Context, config models.PolicyConfig, s models.LiveSession) {
	p, ok := e.providers.Provider(s.BackendID)
	if !ok {
		log.Printf("policy engine: no provider for backend %d, skipping session %s", s.BackendID, s.SessionID)
		return
	}

	verified, err := p.TerminateSession(ctx, s.SessionID, config.Message)
	if err != nil || !verified {
		log.Printf("policy engine: termination of %s/%s (user=%s title=%q) failed, retrying next cycle: %v",
			s.BackendName, s.SessionID, s.UserName, s.FullTitle, err)
		return
	}

	now := e.now()
	e.mu.Lock()
	e.cooldown[cooldownKey{s.BackendID, s.UserName, s.FullTitle}] = now.Add(config.Cooldown)
	delete(e.observed, sessionKey{s.BackendID, s.SessionID})
	e.mu.Unlock()

	log.Printf("policy engine: terminated %s/%s user=%s title=%q (%s -> %s)",
		s.BackendName, s.SessionID, s.UserName, s.FullTitle, s.SourceResolution, s.StreamResolution)

	if e.audit != nil {
		entry := &models.AuditEntry{
			Actor:  "system",
			Action: "session.terminate",
			Target: fmt.Sprintf("%s/%s", s.BackendName, s.SessionID),
			Details: map[string]string{
				"user":                s.UserName,
				"title":               s.FullTitle,
				"source_resolution":   s.SourceResolution,
				"stream_resolution":   s.StreamResolution,
				"decision":            string(s.Decision),
				"grace_period":        config.GracePeriod.String(),
			},
		}
		if err := e.audit.RecordAudit(ctx, entry); err != nil {
			log.Printf("policy engine: audit write failed: %v", err)
		}
	}
}

// TrackedSessions reports the number of sessions currently inside their
// grace window. Exposed for the cache status endpoint.
func (e *Engine) TrackedSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observed)
}

// ActiveCooldowns reports the number of unexpired cooldown entries.
func (e *Engine) ActiveCooldowns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	now := e.now()
	for _, until := range e.cooldown {
		if now.Before(until) {
			n++
		}
	}
	return n
}
