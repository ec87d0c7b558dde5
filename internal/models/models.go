package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Error taxonomy for provider operations. Callers wrap these with %w so the
// fan-out boundary can classify failures without string matching.
var (
	ErrConnect       = errors.New("backend unreachable")
	ErrParse         = errors.New("malformed backend response")
	ErrTermination   = errors.New("termination failed")
	ErrConfiguration = errors.New("unsupported backend family")
)

type Family string

const (
	FamilyPlex     Family = "plex"
	FamilyEmby     Family = "emby"
	FamilyJellyfin Family = "jellyfin"
)

func (f Family) Valid() bool {
	switch f {
	case FamilyPlex, FamilyEmby, FamilyJellyfin:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeLiveTV  MediaType = "livetv"
	MediaTypeTrack   MediaType = "track"
)

type StreamDecision string

const (
	DecisionDirectPlay   StreamDecision = "direct-play"
	DecisionDirectStream StreamDecision = "direct-stream"
	DecisionTranscode    StreamDecision = "transcode"
)

type Backend struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Family           Family    `json:"family"`
	URL              string    `json:"url"`
	APIKey           string    `json:"-"`
	Enabled          bool      `json:"enabled"`
	OwnerID          int64     `json:"owner_id,omitempty"`
	VisibleToViewers bool      `json:"visible_to_viewers"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (b *Backend) Validate() error {
	if b.Name == "" {
		return errors.New("name is required")
	}
	if !b.Family.Valid() {
		return errors.New("family must be plex, emby, or jellyfin")
	}
	if b.URL == "" {
		return errors.New("url is required")
	}
	if b.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

type BackendInput struct {
	Name             string `json:"name"`
	Family           Family `json:"family"`
	URL              string `json:"url"`
	APIKey           string `json:"api_key"`
	Enabled          bool   `json:"enabled"`
	VisibleToViewers bool   `json:"visible_to_viewers"`
}

func (bi *BackendInput) ToBackend() *Backend {
	return &Backend{
		Name:             bi.Name,
		Family:           bi.Family,
		URL:              bi.URL,
		APIKey:           bi.APIKey,
		Enabled:          bi.Enabled,
		VisibleToViewers: bi.VisibleToViewers,
	}
}

// LiveSession is the canonical, provider-agnostic view of one playback
// session. It is rebuilt from scratch every collection cycle; nothing in it
// is diffed or patched in place. Session IDs are backend-native and may be
// reassigned mid-playback, so (BackendID, SessionID) is only stable for as
// long as the backend says it is.
type LiveSession struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`
	UserName    string `json:"user_name"`
	ItemID      string `json:"item_id,omitempty"`

	MediaType        MediaType `json:"media_type"`
	Title            string    `json:"title"`
	ParentTitle      string    `json:"parent_title,omitempty"`
	GrandparentTitle string    `json:"grandparent_title,omitempty"`
	FullTitle        string    `json:"full_title"`
	Year             int       `json:"year,omitempty"`

	ProgressMs  int64   `json:"progress_ms"`
	DurationMs  int64   `json:"duration_ms"`
	ProgressPct float64 `json:"progress_pct"`

	Device   string `json:"device,omitempty"`
	Platform string `json:"platform,omitempty"`
	Client   string `json:"client,omitempty"`
	Address  string `json:"address,omitempty"`

	Decision StreamDecision `json:"decision"`

	SourceResolution string `json:"source_resolution,omitempty"`
	SourceBitrate    int64  `json:"source_bitrate,omitempty"`
	SourceVideoCodec string `json:"source_video_codec,omitempty"`
	SourceAudioCodec string `json:"source_audio_codec,omitempty"`

	StreamResolution string `json:"stream_resolution,omitempty"`
	StreamBitrate    int64  `json:"stream_bitrate,omitempty"`
	StreamVideoCodec string `json:"stream_video_codec,omitempty"`
	StreamAudioCodec string `json:"stream_audio_codec,omitempty"`

	Is4K          bool `json:"is_4k"`
	IsHDR         bool `json:"is_hdr"`
	IsDolbyVision bool `json:"is_dolby_vision"`

	HWRequested    bool   `json:"hw_requested,omitempty"`
	HWDecode       bool   `json:"hw_decode,omitempty"`
	HWEncode       bool   `json:"hw_encode,omitempty"`
	HWFullPipeline bool   `json:"hw_full_pipeline,omitempty"`
	HWDecodeName   string `json:"hw_decode_name,omitempty"`
	HWEncodeName   string `json:"hw_encode_name,omitempty"`

	BackendID     int64  `json:"backend_id"`
	BackendName   string `json:"backend_name"`
	BackendFamily Family `json:"backend_family"`
}

// LiveUser is the canonical roster record, refreshed on the slower cycle.
type LiveUser struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	Disabled bool   `json:"disabled"`
	Hidden   bool   `json:"hidden"`

	BackendID     int64  `json:"backend_id"`
	BackendName   string `json:"backend_name"`
	BackendFamily Family `json:"backend_family"`
}

// VersionUnknown is returned in place of an error when a backend's version
// endpoint is unreachable; callers render UI and must not crash.
const VersionUnknown = "unknown"

type VersionInfo struct {
	Version string `json:"version"`
	Product string `json:"product,omitempty"`
}

type UserAuthResult struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsAdmin  bool   `json:"is_admin"`
	Token    string `json:"-"`
}

type LibraryType string

const (
	LibraryTypeMovie LibraryType = "movie"
	LibraryTypeShow  LibraryType = "show"
	LibraryTypeMusic LibraryType = "music"
	LibraryTypeOther LibraryType = "other"
)

type Library struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type LibraryType `json:"type"`
}

type MediaInfo struct {
	ItemID        string `json:"item_id"`
	Resolution    string `json:"resolution,omitempty"`
	Bitrate       int64  `json:"bitrate,omitempty"`
	VideoCodec    string `json:"video_codec,omitempty"`
	AudioCodec    string `json:"audio_codec,omitempty"`
	AudioChannels int    `json:"audio_channels,omitempty"`
	Container     string `json:"container,omitempty"`
	DynamicRange  string `json:"dynamic_range,omitempty"`
}

type CacheStatus struct {
	Running    bool      `json:"running"`
	LastUpdate time.Time `json:"last_update"`
	LastError  string    `json:"last_error,omitempty"`
	Count      int       `json:"count"`
}

type AuditEntry struct {
	ID        int64             `json:"id"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Target    string            `json:"target"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// PolicyConfig drives the termination policy engine. BackendIDs is the set
// of enrolled backends; sessions on other backends are never touched.
type PolicyConfig struct {
	Enabled            bool          `json:"enabled"`
	BackendIDs         []int64       `json:"backend_ids"`
	SourceMinHeight    int           `json:"source_min_height"`
	DeliveredMaxHeight int           `json:"delivered_max_height"`
	GracePeriod        time.Duration `json:"grace_period"`
	Cooldown           time.Duration `json:"cooldown"`
	Message            string        `json:"message,omitempty"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SourceMinHeight:    2160,
		DeliveredMaxHeight: 1080,
		GracePeriod:        5 * time.Second,
		Cooldown:           5 * time.Minute,
		Message:            "4K transcoding is not permitted on this server.",
	}
}

func (pc PolicyConfig) Enrolled(backendID int64) bool {
	for _, id := range pc.BackendIDs {
		if id == backendID {
			return true
		}
	}
	return false
}

type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
