package cache

import (
	"strings"
	"unicode/utf8"

	"streamwarden/internal/models"
)

const maskRune = '*'

// MaskName hides a username from restricted viewers: the first rune stays,
// the rest become the mask character, length preserved.
func MaskName(name string) string {
	if name == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(name)
	rest := utf8.RuneCountInString(name[size:])
	return string(first) + strings.Repeat(string(maskRune), rest)
}

func visible(v Viewer, backends map[int64]models.Backend, backendID int64) bool {
	switch v.Role {
	case models.RoleAdmin:
		return true
	case models.RoleManager:
		_, ok := v.Granted[backendID]
		return ok
	case models.RoleViewer:
		b, ok := backends[backendID]
		return ok && b.VisibleToViewers
	default:
		return false
	}
}

// FilterSessions applies the role rules: admins see everything, managers
// see their granted backends, viewers see viewer-visible backends with
// other users' names masked.
func FilterSessions(v Viewer, backends map[int64]models.Backend, items []models.LiveSession) []models.LiveSession {
	out := make([]models.LiveSession, 0, len(items))
	for _, s := range items {
		if !visible(v, backends, s.BackendID) {
			continue
		}
		if v.Role == models.RoleViewer && s.UserName != v.Name {
			s.UserName = MaskName(s.UserName)
			s.UserID = ""
			s.Address = ""
		}
		out = append(out, s)
	}
	return out
}

// FilterUsers mirrors FilterSessions for the roster view.
func FilterUsers(v Viewer, backends map[int64]models.Backend, items []models.LiveUser) []models.LiveUser {
	out := make([]models.LiveUser, 0, len(items))
	for _, u := range items {
		if !visible(v, backends, u.BackendID) {
			continue
		}
		if v.Role == models.RoleViewer && u.UserName != v.Name {
			u.UserName = MaskName(u.UserName)
			u.Email = ""
		}
		out = append(out, u)
	}
	return out
}
