package client

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/service"
)

// ProfileSource reads profiles by id. Implemented by
// repository.ProfileRepository and memstore.Profiles.
type ProfileSource interface {
	GetByIDs(ctx context.Context, ids []string) ([]*repository.Profile, error)
}

// ProfileDirectory resolves approver display names from the profiles table,
// caching each answer (including "no profile") for the configured TTL.
type ProfileDirectory struct {
	source ProfileSource
	cache  *cache.Cache
	log    zerolog.Logger
}

var _ service.NameResolver = (*ProfileDirectory)(nil)

// NewProfileDirectory creates a directory over source.
func NewProfileDirectory(source ProfileSource, ttl time.Duration, log zerolog.Logger) *ProfileDirectory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ProfileDirectory{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		log:    log.With().Str("component", "profile_directory").Logger(),
	}
}

func cacheKey(id string) string { return "profile:" + id }

// DisplayNames returns the display name of every id that has one.
func (d *ProfileDirectory) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	var missing []string
	for _, id := range ids {
		if x, found := d.cache.Get(cacheKey(id)); found {
			if name := x.(string); name != "" {
				out[id] = name
			}
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	profiles, err := d.source.GetByIDs(ctx, missing)
	if err != nil {
		return out, err
	}

	resolved := make(map[string]string, len(profiles))
	for _, p := range profiles {
		resolved[p.ID] = p.DisplayName()
	}
	for _, id := range missing {
		name := resolved[id]
		d.cache.Set(cacheKey(id), name, cache.DefaultExpiration)
		if name != "" {
			out[id] = name
		}
	}

	d.log.Debug().Int("requested", len(missing)).Int("found", len(profiles)).Msg("Profiles loaded")
	return out, nil
}

// Forget drops a cached name so the next lookup reads the source again.
func (d *ProfileDirectory) Forget(id string) {
	d.cache.Delete(cacheKey(id))
}
