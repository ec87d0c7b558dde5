package jellyfin

import (
	"streamwarden/internal/models"
	"streamwarden/internal/provider/jellybase"
)

type Client struct {
	*jellybase.Client
}

func New(b models.Backend, token string) *Client {
	return &Client{Client: jellybase.New(b, token, models.FamilyJellyfin)}
}
