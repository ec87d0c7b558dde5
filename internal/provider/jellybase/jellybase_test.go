package jellybase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"streamwarden/internal/models"
)

func newTestClient(url string, family models.Family) *Client {
	c := New(models.Backend{ID: 2, Name: "TestServer", Family: family, URL: url}, "test-key", family)
	c.verifyDelay = 10 * time.Millisecond
	return c
}

func TestListActiveSessions(t *testing.T) {
	data, err := os.ReadFile("testdata/sessions.json")
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "test-key" {
			t.Error("missing X-Emby-Token header")
		}
		if r.URL.Path != "/Sessions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyJellyfin)
	sessions, err := c.ListActiveSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions (idle client excluded), got %d", len(sessions))
	}

	s := sessions[0]
	if s.SessionID != "sess1" || s.UserName != "alice" {
		t.Errorf("session = %q/%q", s.SessionID, s.UserName)
	}
	if s.Decision != models.DecisionTranscode {
		t.Errorf("decision = %q, want transcode", s.Decision)
	}
	if s.SourceResolution != "4K" || !s.Is4K {
		t.Errorf("source resolution = %q (is4k=%v), want 4K", s.SourceResolution, s.Is4K)
	}
	if s.StreamResolution != "1080p" {
		t.Errorf("stream resolution = %q, want 1080p", s.StreamResolution)
	}
	if !s.IsHDR || s.IsDolbyVision {
		t.Errorf("hdr=%v dv=%v, want HDR only", s.IsHDR, s.IsDolbyVision)
	}
	// No HardwareAccelerationType in the payload; the qsv suffix on the
	// output codec is the only evidence.
	if !s.HWEncode || s.HWEncodeName != "Intel QuickSync" {
		t.Errorf("hw = %v/%q, want encode via QuickSync", s.HWEncode, s.HWEncodeName)
	}
	if s.DurationMs != 10116000 || s.ProgressMs != 2529000 {
		t.Errorf("progress = %d/%d", s.ProgressMs, s.DurationMs)
	}
	if s.ProgressPct != 25 {
		t.Errorf("progress pct = %v, want 25 (recomputed)", s.ProgressPct)
	}
	if s.BackendID != 2 || s.BackendFamily != models.FamilyJellyfin {
		t.Errorf("backend attribution = %d/%q", s.BackendID, s.BackendFamily)
	}

	ep := sessions[1]
	if ep.MediaType != models.MediaTypeEpisode {
		t.Errorf("media type = %q, want episode", ep.MediaType)
	}
	if ep.FullTitle != "Derry Girls - Season 2 - Hard Times" {
		t.Errorf("full title = %q", ep.FullTitle)
	}
	if ep.Decision != models.DecisionDirectPlay {
		t.Errorf("decision = %q, want direct-play", ep.Decision)
	}
	if ep.IsHDR || ep.Is4K {
		t.Error("SDR 1080p session misflagged")
	}
	if ep.ProgressPct != 25 {
		t.Errorf("progress pct = %v, want 25", ep.ProgressPct)
	}
}

func TestNormalizationIdempotent(t *testing.T) {
	data, err := os.ReadFile("testdata/sessions.json")
	if err != nil {
		t.Fatal(err)
	}
	c := newTestClient("http://unused", models.FamilyEmby)

	var raw []apiSession
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	build := func() []models.LiveSession {
		out := make([]models.LiveSession, 0, len(raw))
		for _, s := range raw {
			if s.NowPlaying == nil {
				continue
			}
			out = append(out, c.buildSession(s))
		}
		return out
	}
	if !reflect.DeepEqual(build(), build()) {
		t.Error("building the same payload twice produced different records")
	}
}

func TestHWAccelerationTypeWins(t *testing.T) {
	c := newTestClient("http://unused", models.FamilyEmby)
	s := apiSession{
		ID:       "s",
		UserName: "u",
		NowPlaying: &nowPlayingItem{
			ID: "i", Name: "Movie", Type: "Movie", RunTimeTicks: 10000,
		},
		TranscodingInfo: &transcodingInfo{
			IsVideoDirect:      false,
			VideoCodec:         "h264",
			HWAccelerationType: "vaapi",
		},
	}
	ls := c.buildSession(s)
	if !ls.HWFullPipeline || ls.HWDecodeName != "VAAPI" || ls.HWEncodeName != "VAAPI" {
		t.Errorf("hw = %+v", ls)
	}
}

func TestListUsers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[
  {"Id": "u1", "Name": "admin", "Policy": {"IsAdministrator": true}},
  {"Id": "u2", "Name": "alice", "Policy": {"IsAdministrator": false, "IsDisabled": true, "IsHidden": true}}
]`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyEmby)
	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if !users[0].IsAdmin {
		t.Error("expected admin flag on first user")
	}
	if !users[1].Disabled || !users[1].Hidden {
		t.Errorf("user flags = %+v", users[1])
	}
	if users[1].BackendFamily != models.FamilyEmby {
		t.Errorf("family = %q", users[1].BackendFamily)
	}
}

func TestAuthenticateUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users/AuthenticateByName" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Emby-Authorization") == "" {
			t.Error("missing X-Emby-Authorization header")
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["Pw"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"User": {"Id": "u1", "Name": "alice", "Policy": {"IsAdministrator": false}}, "AccessToken": "tok"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyJellyfin)
	res, err := c.AuthenticateUser(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.UserName != "alice" || res.Token != "tok" {
		t.Errorf("auth result = %+v", res)
	}

	res, err = c.AuthenticateUser(context.Background(), "alice", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("expected nil for rejected credentials, got %+v", res)
	}
}

func TestVersionInfoUnknownOnFailure(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", models.FamilyEmby)
	if vi := c.VersionInfo(context.Background()); vi.Version != models.VersionUnknown {
		t.Errorf("version = %q, want unknown sentinel", vi.Version)
	}
}

func TestTerminateSessionLegacyFallback(t *testing.T) {
	var stopAttempts atomic.Int32
	var commandHit atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Sessions/sess1/Playing/Stop":
			stopAttempts.Add(1)
			w.WriteHeader(http.StatusNotFound) // older servers lack this route
		case "/Sessions/sess1/Command/Stop":
			commandHit.Store(true)
			w.WriteHeader(http.StatusNoContent)
		case "/Sessions":
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyJellyfin)
	ok, err := c.TerminateSession(context.Background(), "sess1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !commandHit.Load() || stopAttempts.Load() != 1 {
		t.Errorf("ok=%v command=%v attempts=%d", ok, commandHit.Load(), stopAttempts.Load())
	}
}

func TestTerminateSessionSendsMessage(t *testing.T) {
	var gotMessage atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Sessions/sess1/Message":
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatal(err)
			}
			if payload["Text"] != "stop that" {
				t.Errorf("message text = %v", payload["Text"])
			}
			gotMessage.Store(true)
			w.WriteHeader(http.StatusNoContent)
		case "/Sessions/sess1/Playing/Stop":
			w.WriteHeader(http.StatusNoContent)
		case "/Sessions":
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyEmby)
	ok, err := c.TerminateSession(context.Background(), "sess1", "stop that")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !gotMessage.Load() {
		t.Errorf("ok=%v message=%v", ok, gotMessage.Load())
	}
}

func TestTerminateSessionUnverified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Sessions/sess1/Playing/Stop":
			w.WriteHeader(http.StatusNoContent)
		case "/Sessions":
			w.Write([]byte(`[{"Id": "sess1", "UserName": "alice", "NowPlayingItem": {"Id": "i", "Name": "Movie", "Type": "Movie"}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyJellyfin)
	ok, err := c.TerminateSession(context.Background(), "sess1", "")
	if ok || err == nil {
		t.Errorf("ok=%v err=%v, want unverified termination to fail", ok, err)
	}
}

func TestSetLibraryAccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users/u1/Policy" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		if payload["EnableAllFolders"] != false {
			t.Errorf("EnableAllFolders = %v", payload["EnableAllFolders"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, models.FamilyJellyfin)
	ok, err := c.SetLibraryAccess(context.Background(), "u1", []string{"lib1", "lib2"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected success")
	}

	// Failures are swallowed, not propagated.
	down := newTestClient("http://127.0.0.1:1", models.FamilyJellyfin)
	ok, err = down.SetLibraryAccess(context.Background(), "u1", nil)
	if err != nil || ok {
		t.Errorf("ok=%v err=%v, want swallowed failure", ok, err)
	}
}
