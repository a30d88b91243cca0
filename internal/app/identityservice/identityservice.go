// Package identityservice resolves the public profiles of Eve Online characters.
package identityservice

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/antihax/goesi"
	"golang.org/x/sync/singleflight"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/eveimage"
	"github.com/jp-673/isktreon/internal/memcache"
	"github.com/jp-673/isktreon/internal/xesi"
)

const corporationCacheTimeoutDefault = time.Hour

// IdentityService resolves public profiles from the ESI directory.
type IdentityService struct {
	cacheTimeout time.Duration
	corporations *memcache.Cache[int32, string]
	esiClient    *goesi.APIClient
	sfg          singleflight.Group
}

type Params struct {
	ESIClient *goesi.APIClient
	// optional
	CacheTimeout time.Duration // how long corporation names are cached
}

// New returns a new IdentityService.
func New(arg Params) *IdentityService {
	if arg.ESIClient == nil {
		panic("identityservice: missing ESI client")
	}
	s := &IdentityService{
		cacheTimeout: arg.CacheTimeout,
		corporations: memcache.New[int32, string](),
		esiClient:    arg.ESIClient,
	}
	if s.cacheTimeout <= 0 {
		s.cacheTimeout = corporationCacheTimeoutDefault
	}
	return s
}

// Close frees the resources of the service.
func (s *IdentityService) Close() {
	s.corporations.Close()
}

// Resolve returns the combined public profile of a character and it's corporation.
// Errors wrap [app.ErrProfileFetchFailed].
func (s *IdentityService) Resolve(ctx context.Context, characterID int32, accessToken string) (app.PublicProfile, error) {
	if accessToken != "" {
		ctx = xesi.NewContextWithAccessToken(ctx, accessToken)
	}
	c, _, err := s.esiClient.ESI.CharacterApi.GetCharactersCharacterId(ctx, characterID, nil)
	if err != nil {
		return app.PublicProfile{}, fmt.Errorf("%w: character %d: %w", app.ErrProfileFetchFailed, characterID, err)
	}
	corporationName, err := s.corporationName(ctx, c.CorporationId)
	if err != nil {
		return app.PublicProfile{}, fmt.Errorf("%w: corporation %d: %w", app.ErrProfileFetchFailed, c.CorporationId, err)
	}
	portrait, err := eveimage.CharacterPortraitURL(characterID, app.PortraitPixelSize)
	if err != nil {
		return app.PublicProfile{}, err
	}
	logo, err := eveimage.CorporationLogoURL(c.CorporationId, app.LogoPixelSize)
	if err != nil {
		return app.PublicProfile{}, err
	}
	p := app.PublicProfile{
		CharacterID:     characterID,
		CharacterName:   c.Name,
		CorporationID:   c.CorporationId,
		CorporationName: corporationName,
		PortraitURL:     portrait,
		CorporationLogo: logo,
		SecurityStatus:  app.RoundSecurityStatus(float64(c.SecurityStatus)),
	}
	slog.Debug("Resolved profile", "characterID", characterID, "corporationID", c.CorporationId)
	return p, nil
}

func (s *IdentityService) corporationName(ctx context.Context, corporationID int32) (string, error) {
	if name, ok := s.corporations.Get(corporationID); ok {
		return name, nil
	}
	x, err, _ := s.sfg.Do(strconv.Itoa(int(corporationID)), func() (any, error) {
		r, _, err := s.esiClient.ESI.CorporationApi.GetCorporationsCorporationId(ctx, corporationID, nil)
		if err != nil {
			return "", err
		}
		s.corporations.Set(corporationID, r.Name, s.cacheTimeout)
		return r.Name, nil
	})
	if err != nil {
		return "", err
	}
	return x.(string), nil
}
