package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/jonboulle/clockwork"

	"raffle/internal/apperr"
	"raffle/internal/metrics"
	"raffle/internal/models"
	"raffle/internal/store"
	"raffle/internal/tiktok"
)

const defaultBio = "TikTok Creator"

// UserFetcher is the upstream collaborator consulted on cache misses.
type UserFetcher interface {
	FetchUser(ctx context.Context, uniqueID string) (*tiktok.UserInfoResponse, error)
}

// ProfileLookup is a profile together with how it was obtained.
type ProfileLookup struct {
	Profile *models.Profile
	Cached  bool
	Age     time.Duration
	// Stale is advisory only; stale entries are still served.
	Stale bool
}

// ProfileService is a cache-through proxy in front of the TikTok API.
// Entries never expire on their own; only PurgeAll removes them.
type ProfileService struct {
	store     store.ProfileStore
	upstream  UserFetcher
	clock     clockwork.Clock
	freshness time.Duration
}

// NewProfileService creates a ProfileService. freshness is the advisory window
// after which a cached profile is reported as stale.
func NewProfileService(st store.ProfileStore, upstream UserFetcher, clock clockwork.Clock, freshness time.Duration) *ProfileService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProfileService{
		store:     st,
		upstream:  upstream,
		clock:     clock,
		freshness: freshness,
	}
}

// NormalizeKey lowercases raw and strips surrounding whitespace and leading '@'.
func NormalizeKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimLeft(strings.TrimSpace(raw), "@"))
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperr.NewInvalidArgument("username must not be empty", "username", raw)
	}
	return key, nil
}

// GetProfile returns the cached profile for raw, fetching and storing it on a miss.
func (s *ProfileService) GetProfile(ctx context.Context, raw string) (*models.Profile, error) {
	lookup, err := s.Lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	return lookup.Profile, nil
}

// Lookup is GetProfile with cache metadata attached.
func (s *ProfileService) Lookup(ctx context.Context, raw string) (*ProfileLookup, error) {
	key, err := NormalizeKey(raw)
	if err != nil {
		return nil, err
	}

	cached, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.ProfileCacheHits.Inc()
		age := cached.Age(s.clock.Now())
		logger.Infof("Serving cached data for %s (cached %d days ago)", key, int(age.Hours()/24))
		return &ProfileLookup{
			Profile: cached,
			Cached:  true,
			Age:     age,
			Stale:   s.freshness > 0 && age > s.freshness,
		}, nil
	}

	metrics.ProfileCacheMisses.Inc()
	profile, err := s.fetchAndStore(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ProfileLookup{Profile: profile}, nil
}

// RefreshProfile fetches raw from upstream unconditionally and replaces the stored entry.
func (s *ProfileService) RefreshProfile(ctx context.Context, raw string) (*models.Profile, error) {
	key, err := NormalizeKey(raw)
	if err != nil {
		return nil, err
	}
	return s.fetchAndStore(ctx, key)
}

func (s *ProfileService) fetchAndStore(ctx context.Context, key string) (*models.Profile, error) {
	logger.Infof("Fetching fresh data for %s from TikTok API", key)

	resp, err := s.upstream.FetchUser(ctx, key)
	if err != nil {
		return nil, err
	}
	if resp == nil || !resp.OK() || resp.UserInfo.User.Nickname == "" {
		return nil, apperr.NewNotFound("user not found or API error", key)
	}

	profile := transformProfile(key, resp.UserInfo, s.clock.Now())
	if err := s.store.Set(ctx, key, profile); err != nil {
		return nil, err
	}
	logger.Infof("Cached data for %s", key)

	return profile, nil
}

func transformProfile(key string, info *tiktok.UserInfo, now time.Time) *models.Profile {
	user := info.User

	uniqueID := user.UniqueID
	if uniqueID == "" {
		uniqueID = key
	}
	avatar := user.AvatarMedium
	if avatar == "" {
		avatar = user.AvatarThumb
	}
	bio := user.Signature
	if strings.TrimSpace(bio) == "" {
		bio = defaultBio
	}
	var bioLink string
	if user.BioLink != nil {
		bioLink = user.BioLink.Link
	}

	return &models.Profile{
		Username:      "@" + uniqueID,
		DisplayName:   user.Nickname,
		FollowerCount: info.Stats.FollowerCount,
		AvatarURL:     avatar,
		Verified:      user.Verified,
		Bio:           bio,
		LikesCount:    info.Stats.HeartCount,
		VideoCount:    info.Stats.VideoCount,
		BioLink:       bioLink,
		CachedAt:      now,
	}
}

// ListKeys returns every cached key in ascending order.
func (s *ProfileService) ListKeys(ctx context.Context) ([]string, error) {
	return s.store.Keys(ctx)
}

func (s *ProfileService) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// PurgeAll removes every cached profile. Callers are expected to gate this
// behind an operator confirmation.
func (s *ProfileService) PurgeAll(ctx context.Context) (int, error) {
	removed, err := s.store.PurgeAll(ctx)
	if err != nil {
		return removed, err
	}
	metrics.ProfileCachePurged.Add(float64(removed))
	logger.Infof("Cache cleanup completed: removed %d entries", removed)
	return removed, nil
}

// StorageDescription names the backing store.
func (s *ProfileService) StorageDescription() string {
	return s.store.Describe()
}

// FreshnessWindow is the advisory staleness threshold.
func (s *ProfileService) FreshnessWindow() time.Duration {
	return s.freshness
}
