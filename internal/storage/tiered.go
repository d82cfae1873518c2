package storage

import (
	"context"

	"github.com/rs/zerolog"
)

// Tiered writes locally first and mirrors to a remote store best-effort;
// a remote failure never loses the artifact.
type Tiered struct {
	local  Store
	remote Store
	log    zerolog.Logger
}

// NewTiered combines a required local store with an optional remote one.
func NewTiered(local, remote Store, log zerolog.Logger) *Tiered {
	return &Tiered{local: local, remote: remote, log: log}
}

func (t *Tiered) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := t.local.Save(ctx, key, data, contentType); err != nil {
		return err
	}
	if t.remote != nil {
		if err := t.remote.Save(ctx, key, data, contentType); err != nil {
			t.log.Warn().Err(err).Str("key", key).Msg("remote archive failed; local copy kept")
		}
	}
	return nil
}

func (t *Tiered) URL(ctx context.Context, key string) (string, error) {
	if t.remote != nil {
		if url, err := t.remote.URL(ctx, key); err == nil && url != "" {
			return url, nil
		}
	}
	return t.local.URL(ctx, key)
}
