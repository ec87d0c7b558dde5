// Package plex adapts a Plex Media Server (HTTP/XML) to the provider
// contract.
package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"streamwarden/internal/httputil"
	"streamwarden/internal/models"
	"streamwarden/internal/provider/normalize"
)

const defaultPlexTVURL = "https://plex.tv"

type Client struct {
	backendID   int64
	backendName string
	url         string
	token       string
	client      *http.Client

	plexTVURL string

	// Termination probes historical endpoints in sequence; the limiter keeps
	// retries from hammering the server while a kill is being verified.
	termLimiter *rate.Limiter
	verifyDelay time.Duration
}

func New(b models.Backend, token string) *Client {
	return &Client{
		backendID:   b.ID,
		backendName: b.Name,
		url:         strings.TrimRight(b.URL, "/"),
		token:       token,
		client:      httputil.NewClient(),
		plexTVURL:   defaultPlexTVURL,
		termLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
		verifyDelay: 2 * time.Second,
	}
}

func (c *Client) Name() string          { return c.backendName }
func (c *Client) Family() models.Family { return models.FamilyPlex }
func (c *Client) BackendID() int64      { return c.backendID }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/xml")
}

func (c *Client) get(ctx context.Context, path string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: plex returned status %d", models.ErrConnect, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	return body, nil
}

func (c *Client) Connect(ctx context.Context) bool {
	_, err := c.get(ctx, "/identity", httputil.MaxBody)
	if err != nil {
		slog.Debug("plex: connect failed", "backend", c.backendName, "error", err)
		return false
	}
	return true
}

type identityContainer struct {
	XMLName xml.Name `xml:"MediaContainer"`
	Version string   `xml:"version,attr"`
}

func (c *Client) VersionInfo(ctx context.Context) models.VersionInfo {
	body, err := c.get(ctx, "/identity", httputil.MaxBody)
	if err != nil {
		return models.VersionInfo{Version: models.VersionUnknown}
	}
	var ic identityContainer
	if err := xml.Unmarshal(body, &ic); err != nil || ic.Version == "" {
		return models.VersionInfo{Version: models.VersionUnknown}
	}
	return models.VersionInfo{Version: ic.Version, Product: "Plex Media Server"}
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]models.LiveSession, error) {
	body, err := c.get(ctx, "/status/sessions", httputil.MaxSessionsBody)
	if err != nil {
		return nil, err
	}
	return c.parseSessions(body)
}

type sessionsContainer struct {
	XMLName xml.Name      `xml:"MediaContainer"`
	Videos  []sessionItem `xml:"Video"`
	Tracks  []sessionItem `xml:"Track"`
}

type sessionItem struct {
	SessionKey       string            `xml:"sessionKey,attr"`
	RatingKey        string            `xml:"ratingKey,attr"`
	Type             string            `xml:"type,attr"`
	Title            string            `xml:"title,attr"`
	ParentTitle      string            `xml:"parentTitle,attr"`
	GrandparentTitle string            `xml:"grandparentTitle,attr"`
	Year             string            `xml:"year,attr"`
	Duration         string            `xml:"duration,attr"`
	ViewOffset       string            `xml:"viewOffset,attr"`
	Player           sessionPlayer     `xml:"Player"`
	Session          sessionInfo       `xml:"Session"`
	User             sessionUser       `xml:"User"`
	Media            []sessionMedia    `xml:"Media"`
	Transcode        *transcodeSession `xml:"TranscodeSession"`
}

type sessionPlayer struct {
	Title    string `xml:"title,attr"`
	Product  string `xml:"product,attr"`
	Platform string `xml:"platform,attr"`
	Address  string `xml:"address,attr"`
}

type sessionInfo struct {
	ID        string `xml:"id,attr"`
	Bandwidth string `xml:"bandwidth,attr"`
}

type sessionUser struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"title,attr"`
}

type sessionMedia struct {
	VideoCodec      string        `xml:"videoCodec,attr"`
	AudioCodec      string        `xml:"audioCodec,attr"`
	VideoResolution string        `xml:"videoResolution,attr"`
	Height          string        `xml:"height,attr"`
	Width           string        `xml:"width,attr"`
	Bitrate         string        `xml:"bitrate,attr"`
	Selected        string        `xml:"selected,attr"`
	Parts           []sessionPart `xml:"Part"`
}

type sessionPart struct {
	Streams []sessionStream `xml:"Stream"`
}

type sessionStream struct {
	StreamType  string `xml:"streamType,attr"` // 1=video, 2=audio, 3=subtitle
	Codec       string `xml:"codec,attr"`
	Height      string `xml:"height,attr"`
	ColorTrc    string `xml:"colorTrc,attr"`
	DOVIPresent string `xml:"DOVIPresent,attr"`
}

type transcodeSession struct {
	VideoDecision    string `xml:"videoDecision,attr"`
	AudioDecision    string `xml:"audioDecision,attr"`
	SourceVideoCodec string `xml:"sourceVideoCodec,attr"`
	SourceAudioCodec string `xml:"sourceAudioCodec,attr"`
	VideoCodec       string `xml:"videoCodec,attr"`
	AudioCodec       string `xml:"audioCodec,attr"`
	Height           string `xml:"height,attr"`
	HWRequested      string `xml:"transcodeHwRequested,attr"`
	HWDecoding       string `xml:"transcodeHwDecoding,attr"`
	HWEncoding       string `xml:"transcodeHwEncoding,attr"`
	HWFullPipeline   string `xml:"transcodeHwFullPipeline,attr"`
}

func (c *Client) parseSessions(data []byte) ([]models.LiveSession, error) {
	var sc sessionsContainer
	if err := xml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: plex sessions: %v", models.ErrParse, err)
	}

	items := make([]sessionItem, 0, len(sc.Videos)+len(sc.Tracks))
	items = append(items, sc.Videos...)
	items = append(items, sc.Tracks...)

	sessions := make([]models.LiveSession, 0, len(items))
	for _, item := range items {
		// Items without a user or session key are server-internal (sync
		// transcodes, DVR grabs), not real playback.
		if item.User.Title == "" || (item.Session.ID == "" && item.SessionKey == "") {
			continue
		}
		sessions = append(sessions, c.buildSession(item))
	}
	return sessions, nil
}

func (c *Client) buildSession(item sessionItem) models.LiveSession {
	mediaType := plexMediaType(item.Type)
	progressMs := atoi64(item.ViewOffset)
	durationMs := atoi64(item.Duration)

	ls := models.LiveSession{
		SessionID:        plexSessionID(item),
		UserID:           item.User.ID,
		UserName:         item.User.Title,
		ItemID:           item.RatingKey,
		MediaType:        mediaType,
		Title:            item.Title,
		ParentTitle:      item.ParentTitle,
		GrandparentTitle: item.GrandparentTitle,
		FullTitle:        normalize.FullTitle(mediaType, item.Title, item.ParentTitle, item.GrandparentTitle),
		Year:             atoi(item.Year),
		ProgressMs:       progressMs,
		DurationMs:       durationMs,
		ProgressPct:      normalize.ProgressPct(progressMs, durationMs),
		Device:           item.Player.Title,
		Platform:         item.Player.Platform,
		Client:           item.Player.Product,
		Address:          item.Player.Address,
		StreamBitrate:    atoi64(item.Session.Bandwidth) * 1000, // Plex reports kbps
		BackendID:        c.backendID,
		BackendName:      c.backendName,
		BackendFamily:    models.FamilyPlex,
	}

	if len(item.Media) > 0 {
		m := item.Media[0]
		for i := range item.Media {
			if item.Media[i].Selected == "1" {
				m = item.Media[i]
				break
			}
		}
		ls.SourceVideoCodec = m.VideoCodec
		ls.SourceAudioCodec = m.AudioCodec
		ls.SourceBitrate = atoi64(m.Bitrate) * 1000
		if m.Height != "" {
			ls.SourceResolution = normalize.Resolution(atoi(m.Height))
		} else if m.VideoResolution != "" {
			ls.SourceResolution = normalize.ResolutionLabel(m.VideoResolution)
		}
		for _, p := range m.Parts {
			for _, st := range p.Streams {
				if st.StreamType != "1" {
					continue
				}
				if st.DOVIPresent == "1" {
					ls.IsDolbyVision = true
				}
				if st.ColorTrc == "smpte2084" || st.ColorTrc == "arib-std-b67" {
					ls.IsHDR = true
				}
			}
		}
	}
	ls.Is4K = ls.SourceResolution == "4K"

	if ts := item.Transcode; ts != nil {
		ls.Decision = plexDecision(ts.VideoDecision)
		ls.StreamVideoCodec = ts.VideoCodec
		ls.StreamAudioCodec = ts.AudioCodec
		if ts.Height != "" {
			ls.StreamResolution = normalize.Resolution(atoi(ts.Height))
		} else {
			ls.StreamResolution = ls.SourceResolution
		}
		if ts.SourceVideoCodec != "" {
			ls.SourceVideoCodec = ts.SourceVideoCodec
		}
		if ts.SourceAudioCodec != "" {
			ls.SourceAudioCodec = ts.SourceAudioCodec
		}
		ls.HWRequested = isHWFlag(ts.HWRequested)
		ls.HWDecode = isHWFlag(ts.HWDecoding)
		ls.HWEncode = isHWFlag(ts.HWEncoding)
		ls.HWFullPipeline = isHWFlag(ts.HWFullPipeline)
		ls.HWDecodeName = hwName(ts.HWDecoding)
		ls.HWEncodeName = hwName(ts.HWEncoding)
	} else {
		ls.Decision = models.DecisionDirectPlay
		ls.StreamResolution = ls.SourceResolution
		ls.StreamVideoCodec = ls.SourceVideoCodec
		ls.StreamAudioCodec = ls.SourceAudioCodec
	}
	return ls
}

func plexDecision(d string) models.StreamDecision {
	switch d {
	case "transcode":
		return models.DecisionTranscode
	case "copy":
		return models.DecisionDirectStream
	default:
		return models.DecisionDirectPlay
	}
}

// Plex reports HW fields as "1" (older servers) or the accelerator name,
// e.g. "nvdec" or "qsv".
func isHWFlag(val string) bool {
	return val != "" && val != "0"
}

func hwName(val string) string {
	if val == "" || val == "0" || val == "1" {
		return ""
	}
	return normalize.AcceleratorLabel(val)
}

func plexMediaType(t string) models.MediaType {
	switch t {
	case "movie":
		return models.MediaTypeMovie
	case "episode":
		return models.MediaTypeEpisode
	case "track":
		return models.MediaTypeTrack
	default:
		return models.MediaType(t)
	}
}

func plexSessionID(item sessionItem) string {
	if item.Session.ID != "" {
		return item.Session.ID
	}
	return item.SessionKey
}

type accountsContainer struct {
	XMLName  xml.Name      `xml:"MediaContainer"`
	Accounts []accountItem `xml:"Account"`
}

type accountItem struct {
	ID    string `xml:"id,attr"`
	Name  string `xml:"name,attr"`
	Email string `xml:"email,attr"`
}

func (c *Client) ListUsers(ctx context.Context) ([]models.LiveUser, error) {
	body, err := c.get(ctx, "/accounts", httputil.MaxSessionsBody)
	if err != nil {
		return nil, err
	}
	var ac accountsContainer
	if err := xml.Unmarshal(body, &ac); err != nil {
		return nil, fmt.Errorf("%w: plex accounts: %v", models.ErrParse, err)
	}
	users := make([]models.LiveUser, 0, len(ac.Accounts))
	for _, a := range ac.Accounts {
		// Account id 0 is the server's anonymous/admin placeholder.
		if a.ID == "0" || a.Name == "" {
			continue
		}
		users = append(users, models.LiveUser{
			UserID:        a.ID,
			UserName:      a.Name,
			Email:         a.Email,
			IsAdmin:       a.ID == "1", // server owner is always account 1
			BackendID:     c.backendID,
			BackendName:   c.backendName,
			BackendFamily: models.FamilyPlex,
		})
	}
	return users, nil
}

type signInResponse struct {
	XMLName   xml.Name `xml:"user"`
	ID        string   `xml:"id,attr"`
	Username  string   `xml:"username,attr"`
	AuthToken string   `xml:"authToken,attr"`
}

// AuthenticateUser verifies credentials against plex.tv; the media server
// itself has no password endpoint.
func (c *Client) AuthenticateUser(ctx context.Context, username, password string) (*models.UserAuthResult, error) {
	form := url.Values{}
	form.Set("user[login]", username)
	form.Set("user[password]", password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.plexTVURL+"/users/sign_in.xml",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Plex-Client-Identifier", "streamwarden")
	req.Header.Set("X-Plex-Product", "StreamWarden")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: plex.tv returned status %d", models.ErrConnect, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnect, err)
	}
	var sr signInResponse
	if err := xml.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: plex.tv sign-in: %v", models.ErrParse, err)
	}
	if sr.Username == "" {
		return nil, nil
	}
	return &models.UserAuthResult{
		UserID:   sr.ID,
		UserName: sr.Username,
		Token:    sr.AuthToken,
	}, nil
}

type librariesContainer struct {
	XMLName   xml.Name      `xml:"MediaContainer"`
	Libraries []libraryItem `xml:"Directory"`
}

type libraryItem struct {
	Key   string `xml:"key,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (c *Client) ListLibraries(ctx context.Context) ([]models.Library, error) {
	body, err := c.get(ctx, "/library/sections", httputil.MaxBody)
	if err != nil {
		return nil, err
	}
	var lc librariesContainer
	if err := xml.Unmarshal(body, &lc); err != nil {
		return nil, fmt.Errorf("%w: plex libraries: %v", models.ErrParse, err)
	}
	libs := make([]models.Library, 0, len(lc.Libraries))
	for _, l := range lc.Libraries {
		libs = append(libs, models.Library{ID: l.Key, Name: l.Title, Type: plexLibraryType(l.Type)})
	}
	return libs, nil
}

func plexLibraryType(t string) models.LibraryType {
	switch t {
	case "movie":
		return models.LibraryTypeMovie
	case "show":
		return models.LibraryTypeShow
	case "artist":
		return models.LibraryTypeMusic
	default:
		return models.LibraryTypeOther
	}
}

// SetLibraryAccess is not expressible with a server token alone; Plex
// shares are managed through plex.tv. Reported as unsupported, not an
// error, per the secondary-capability policy.
func (c *Client) SetLibraryAccess(ctx context.Context, userID string, libraryIDs []string) (bool, error) {
	return false, nil
}

type metadataContainer struct {
	XMLName xml.Name       `xml:"MediaContainer"`
	Videos  []metadataItem `xml:"Video"`
	Tracks  []metadataItem `xml:"Track"`
}

type metadataItem struct {
	RatingKey string          `xml:"ratingKey,attr"`
	Media     []metadataMedia `xml:"Media"`
}

type metadataMedia struct {
	VideoCodec      string `xml:"videoCodec,attr"`
	AudioCodec      string `xml:"audioCodec,attr"`
	VideoResolution string `xml:"videoResolution,attr"`
	Height          string `xml:"height,attr"`
	Bitrate         string `xml:"bitrate,attr"`
	AudioChannels   string `xml:"audioChannels,attr"`
	Container       string `xml:"container,attr"`
}

func (c *Client) MediaInfo(ctx context.Context, itemID string) (*models.MediaInfo, error) {
	if itemID == "" {
		return nil, nil
	}
	body, err := c.get(ctx, "/library/metadata/"+url.PathEscape(itemID), httputil.MaxBody)
	if err != nil {
		return nil, err
	}
	var mc metadataContainer
	if err := xml.Unmarshal(body, &mc); err != nil {
		return nil, fmt.Errorf("%w: plex metadata: %v", models.ErrParse, err)
	}
	items := append(mc.Videos, mc.Tracks...)
	if len(items) == 0 || len(items[0].Media) == 0 {
		return nil, nil
	}
	m := items[0].Media[0]
	res := m.VideoResolution
	if res == "" && m.Height != "" {
		res = normalize.Resolution(atoi(m.Height))
	} else {
		res = normalize.ResolutionLabel(res)
	}
	return &models.MediaInfo{
		ItemID:        itemID,
		Resolution:    res,
		Bitrate:       atoi64(m.Bitrate) * 1000,
		VideoCodec:    m.VideoCodec,
		AudioCodec:    m.AudioCodec,
		AudioChannels: atoi(m.AudioChannels),
		Container:     m.Container,
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
