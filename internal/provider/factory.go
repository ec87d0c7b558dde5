package provider

import (
	"fmt"

	"streamwarden/internal/models"
	"streamwarden/internal/provider/emby"
	"streamwarden/internal/provider/jellyfin"
	"streamwarden/internal/provider/plex"
)

// New constructs the provider variant for a backend's family. The token is
// the decrypted credential; it lives in the provider and nowhere else. An
// unknown family is a configuration bug and is never swallowed.
func New(b models.Backend, token string) (Provider, error) {
	switch b.Family {
	case models.FamilyPlex:
		return plex.New(b, token), nil
	case models.FamilyEmby:
		return emby.New(b, token), nil
	case models.FamilyJellyfin:
		return jellyfin.New(b, token), nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrConfiguration, b.Family)
	}
}
