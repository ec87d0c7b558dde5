// Package jellybase is the shared adapter for Emby and Jellyfin, which
// expose the same session/user API shape. The thin family packages bind the
// family tag.
package jellybase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"streamwarden/internal/httputil"
	"streamwarden/internal/models"
	"streamwarden/internal/provider/normalize"
)

type Client struct {
	backendID   int64
	backendName string
	family      models.Family
	url         string
	apiKey      string
	client      *http.Client

	termLimiter *rate.Limiter
	verifyDelay time.Duration
}

func New(b models.Backend, token string, family models.Family) *Client {
	return &Client{
		backendID:   b.ID,
		backendName: b.Name,
		family:      family,
		url:         strings.TrimRight(b.URL, "/"),
		apiKey:      token,
		client:      httputil.NewClient(),
		termLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
		verifyDelay: 2 * time.Second,
	}
}

func (c *Client) Name() string          { return c.backendName }
func (c *Client) Family() models.Family { return c.family }
func (c *Client) BackendID() int64      { return c.backendID }

func (c *Client) addAuth(req *http.Request) *http.Request {
	req.Header.Set("X-Emby-Token", c.apiKey)
	return req
}

func (c *Client) get(ctx context.Context, path string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(c.addAuth(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", models.ErrConnect, c.family, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(c.addAuth(req))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	httputil.DrainBody(resp)
	return resp.StatusCode, nil
}

func (c *Client) Connect(ctx context.Context) bool {
	_, err := c.get(ctx, "/System/Info/Public", httputil.MaxBody)
	if err != nil {
		slog.Debug("connect failed", "family", c.family, "backend", c.backendName, "error", err)
		return false
	}
	return true
}

type systemInfo struct {
	Version     string `json:"Version"`
	ProductName string `json:"ProductName"`
	ServerName  string `json:"ServerName"`
}

func (c *Client) VersionInfo(ctx context.Context) models.VersionInfo {
	body, err := c.get(ctx, "/System/Info/Public", httputil.MaxBody)
	if err != nil {
		return models.VersionInfo{Version: models.VersionUnknown}
	}
	var si systemInfo
	if err := json.Unmarshal(body, &si); err != nil || si.Version == "" {
		return models.VersionInfo{Version: models.VersionUnknown}
	}
	product := si.ProductName
	if product == "" {
		product = string(c.family)
	}
	return models.VersionInfo{Version: si.Version, Product: product}
}

type apiSession struct {
	ID              string           `json:"Id"`
	UserID          string           `json:"UserId"`
	UserName        string           `json:"UserName"`
	Client          string           `json:"Client"`
	DeviceName      string           `json:"DeviceName"`
	RemoteEndPoint  string           `json:"RemoteEndPoint"`
	NowPlaying      *nowPlayingItem  `json:"NowPlayingItem"`
	PlayState       *playState       `json:"PlayState"`
	TranscodingInfo *transcodingInfo `json:"TranscodingInfo"`
}

type nowPlayingItem struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	SeriesName   string        `json:"SeriesName"`
	SeasonName   string        `json:"SeasonName"`
	Type         string        `json:"Type"`
	Year         int           `json:"ProductionYear"`
	RunTimeTicks int64         `json:"RunTimeTicks"`
	Bitrate      int64         `json:"Bitrate"`
	MediaStreams []mediaStream `json:"MediaStreams"`
	MediaSources []mediaSource `json:"MediaSources"`
}

type mediaSource struct {
	Bitrate      int64         `json:"Bitrate"`
	MediaStreams []mediaStream `json:"MediaStreams"`
}

type mediaStream struct {
	Type           string `json:"Type"` // Video, Audio, Subtitle
	Codec          string `json:"Codec"`
	Height         int    `json:"Height"`
	Width          int    `json:"Width"`
	Channels       int    `json:"Channels"`
	VideoRange     string `json:"VideoRange"`
	VideoRangeType string `json:"VideoRangeType"`
}

type playState struct {
	PositionTicks int64 `json:"PositionTicks"`
	IsPaused      bool  `json:"IsPaused"`
}

type transcodingInfo struct {
	IsVideoDirect      bool    `json:"IsVideoDirect"`
	IsAudioDirect      bool    `json:"IsAudioDirect"`
	VideoCodec         string  `json:"VideoCodec"`
	AudioCodec         string  `json:"AudioCodec"`
	Bitrate            int64   `json:"Bitrate"`
	Width              int     `json:"Width"`
	Height             int     `json:"Height"`
	HWAccelerationType string  `json:"HardwareAccelerationType"`
	CompletionPct      float64 `json:"CompletionPercentage"`
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]models.LiveSession, error) {
	body, err := c.get(ctx, "/Sessions", httputil.MaxSessionsBody)
	if err != nil {
		return nil, err
	}
	var raw []apiSession
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s sessions: %v", models.ErrParse, c.family, err)
	}
	sessions := make([]models.LiveSession, 0, len(raw))
	for _, s := range raw {
		// Connected-but-idle clients and the dashboard's own session have no
		// NowPlayingItem; they are not playback.
		if s.NowPlaying == nil {
			continue
		}
		sessions = append(sessions, c.buildSession(s))
	}
	return sessions, nil
}

func (c *Client) buildSession(s apiSession) models.LiveSession {
	np := s.NowPlaying
	mediaType := apiMediaType(np.Type)
	progressMs := ticksToMs(playPos(s.PlayState))
	durationMs := ticksToMs(np.RunTimeTicks)

	ls := models.LiveSession{
		SessionID:        s.ID,
		UserID:           s.UserID,
		UserName:         s.UserName,
		ItemID:           np.ID,
		MediaType:        mediaType,
		Title:            np.Name,
		ParentTitle:      np.SeasonName,
		GrandparentTitle: np.SeriesName,
		FullTitle:        normalize.FullTitle(mediaType, np.Name, np.SeasonName, np.SeriesName),
		Year:             np.Year,
		ProgressMs:       progressMs,
		DurationMs:       durationMs,
		ProgressPct:      normalize.ProgressPct(progressMs, durationMs),
		Device:           s.DeviceName,
		Platform:         s.Client,
		Client:           s.Client,
		Address:          s.RemoteEndPoint,
		BackendID:        c.backendID,
		BackendName:      c.backendName,
		BackendFamily:    c.family,
	}

	srcBitrate := np.Bitrate
	srcStreams := np.MediaStreams
	if len(np.MediaSources) > 0 {
		srcBitrate = np.MediaSources[0].Bitrate
		srcStreams = np.MediaSources[0].MediaStreams
	}
	ls.SourceBitrate = srcBitrate
	for _, ms := range srcStreams {
		switch ms.Type {
		case "Video":
			ls.SourceVideoCodec = ms.Codec
			ls.SourceResolution = normalize.Resolution(ms.Height)
			switch {
			case strings.EqualFold(ms.VideoRangeType, "DOVI"), strings.HasPrefix(strings.ToUpper(ms.VideoRangeType), "DOVI"):
				ls.IsDolbyVision = true
				ls.IsHDR = true
			case strings.EqualFold(ms.VideoRange, "HDR"), strings.HasPrefix(strings.ToUpper(ms.VideoRangeType), "HDR"):
				ls.IsHDR = true
			}
		case "Audio":
			if ls.SourceAudioCodec == "" {
				ls.SourceAudioCodec = ms.Codec
			}
		}
	}
	ls.Is4K = ls.SourceResolution == "4K"

	if ti := s.TranscodingInfo; ti != nil {
		if ti.IsVideoDirect {
			ls.Decision = models.DecisionDirectStream
		} else {
			ls.Decision = models.DecisionTranscode
		}
		ls.StreamVideoCodec = ti.VideoCodec
		ls.StreamAudioCodec = ti.AudioCodec
		ls.StreamBitrate = ti.Bitrate
		if ti.Height > 0 {
			ls.StreamResolution = normalize.Resolution(ti.Height)
		} else {
			ls.StreamResolution = ls.SourceResolution
		}
		if name := normalize.AcceleratorLabel(ti.HWAccelerationType); name != "" {
			ls.HWRequested = true
			ls.HWDecode = true
			ls.HWEncode = true
			ls.HWFullPipeline = true
			ls.HWDecodeName = name
			ls.HWEncodeName = name
		} else if !ti.IsVideoDirect {
			// Older servers omit HardwareAccelerationType; the accelerator
			// leaks through the output codec suffix instead.
			if name, ok := normalize.Accelerator(ti.VideoCodec); ok {
				ls.HWEncode = true
				ls.HWEncodeName = name
			}
		}
	} else {
		ls.Decision = models.DecisionDirectPlay
		ls.StreamResolution = ls.SourceResolution
		ls.StreamVideoCodec = ls.SourceVideoCodec
		ls.StreamAudioCodec = ls.SourceAudioCodec
		ls.StreamBitrate = srcBitrate
	}
	return ls
}

func playPos(ps *playState) int64 {
	if ps == nil {
		return 0
	}
	return ps.PositionTicks
}

// Emby and Jellyfin report durations in 100ns ticks.
func ticksToMs(ticks int64) int64 {
	return ticks / 10000
}

func apiMediaType(t string) models.MediaType {
	switch t {
	case "Movie", "MusicVideo", "Video":
		return models.MediaTypeMovie
	case "Episode":
		return models.MediaTypeEpisode
	case "Audio":
		return models.MediaTypeTrack
	case "TvChannel", "LiveTvChannel", "Program":
		return models.MediaTypeLiveTV
	default:
		return models.MediaType(strings.ToLower(t))
	}
}

type apiUser struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		IsAdministrator bool `json:"IsAdministrator"`
		IsDisabled      bool `json:"IsDisabled"`
		IsHidden        bool `json:"IsHidden"`
	} `json:"Policy"`
}

func (c *Client) ListUsers(ctx context.Context) ([]models.LiveUser, error) {
	body, err := c.get(ctx, "/Users", httputil.MaxSessionsBody)
	if err != nil {
		return nil, err
	}
	var raw []apiUser
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s users: %v", models.ErrParse, c.family, err)
	}
	users := make([]models.LiveUser, 0, len(raw))
	for _, u := range raw {
		users = append(users, models.LiveUser{
			UserID:        u.ID,
			UserName:      u.Name,
			IsAdmin:       u.Policy.IsAdministrator,
			Disabled:      u.Policy.IsDisabled,
			Hidden:        u.Policy.IsHidden,
			BackendID:     c.backendID,
			BackendName:   c.backendName,
			BackendFamily: c.family,
		})
	}
	return users, nil
}

type authByNameResponse struct {
	User struct {
		ID     string `json:"Id"`
		Name   string `json:"Name"`
		Policy struct {
			IsAdministrator bool `json:"IsAdministrator"`
		} `json:"Policy"`
	} `json:"User"`
	AccessToken string `json:"AccessToken"`
}

func (c *Client) AuthenticateUser(ctx context.Context, username, password string) (*models.UserAuthResult, error) {
	payload := map[string]string{"Username": username, "Pw": password}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/Users/AuthenticateByName",
		strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Emby-Authorization",
		`MediaBrowser Client="StreamWarden", Device="server", DeviceId="streamwarden", Version="1.0"`)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s auth returned status %d", models.ErrConnect, c.family, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	var ar authByNameResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("%w: %s auth: %v", models.ErrParse, c.family, err)
	}
	if ar.User.ID == "" || ar.User.Name == "" {
		return nil, nil
	}
	return &models.UserAuthResult{
		UserID:   ar.User.ID,
		UserName: ar.User.Name,
		IsAdmin:  ar.User.Policy.IsAdministrator,
		Token:    ar.AccessToken,
	}, nil
}

type virtualFolder struct {
	ItemID         string `json:"ItemId"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"`
}

func (c *Client) ListLibraries(ctx context.Context) ([]models.Library, error) {
	body, err := c.get(ctx, "/Library/VirtualFolders", httputil.MaxBody)
	if err != nil {
		return nil, err
	}
	var folders []virtualFolder
	if err := json.Unmarshal(body, &folders); err != nil {
		return nil, fmt.Errorf("%w: %s libraries: %v", models.ErrParse, c.family, err)
	}
	libs := make([]models.Library, 0, len(folders))
	for _, f := range folders {
		libs = append(libs, models.Library{ID: f.ItemID, Name: f.Name, Type: apiLibraryType(f.CollectionType)})
	}
	return libs, nil
}

func apiLibraryType(t string) models.LibraryType {
	switch t {
	case "movies":
		return models.LibraryTypeMovie
	case "tvshows":
		return models.LibraryTypeShow
	case "music":
		return models.LibraryTypeMusic
	default:
		return models.LibraryTypeOther
	}
}

// SetLibraryAccess replaces a user's folder grants via the user policy
// endpoint. Failures are reported as false, never propagated.
func (c *Client) SetLibraryAccess(ctx context.Context, userID string, libraryIDs []string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	payload := map[string]any{
		"EnableAllFolders": len(libraryIDs) == 0,
		"EnabledFolders":   libraryIDs,
	}
	status, err := c.post(ctx, "/Users/"+userID+"/Policy", payload)
	if err != nil {
		slog.Debug("set library access failed", "family", c.family, "user", userID, "error", err)
		return false, nil
	}
	return status == http.StatusOK || status == http.StatusNoContent, nil
}

type itemInfo struct {
	ID           string        `json:"Id"`
	Container    string        `json:"Container"`
	Bitrate      int64         `json:"Bitrate"`
	MediaStreams []mediaStream `json:"MediaStreams"`
	MediaSources []mediaSource `json:"MediaSources"`
}

func (c *Client) MediaInfo(ctx context.Context, itemID string) (*models.MediaInfo, error) {
	if itemID == "" {
		return nil, nil
	}
	body, err := c.get(ctx, "/Items/"+itemID+"?Fields=MediaStreams,MediaSources", httputil.MaxBody)
	if err != nil {
		return nil, err
	}
	var item itemInfo
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("%w: %s item: %v", models.ErrParse, c.family, err)
	}
	info := &models.MediaInfo{ItemID: itemID, Bitrate: item.Bitrate, Container: item.Container}
	streams := item.MediaStreams
	if len(item.MediaSources) > 0 {
		streams = item.MediaSources[0].MediaStreams
		info.Bitrate = item.MediaSources[0].Bitrate
	}
	for _, ms := range streams {
		switch ms.Type {
		case "Video":
			info.VideoCodec = ms.Codec
			info.Resolution = normalize.Resolution(ms.Height)
			if ms.VideoRange != "" && !strings.EqualFold(ms.VideoRange, "SDR") {
				info.DynamicRange = ms.VideoRange
			}
		case "Audio":
			if info.AudioCodec == "" {
				info.AudioCodec = ms.Codec
				info.AudioChannels = ms.Channels
			}
		}
	}
	return info, nil
}
