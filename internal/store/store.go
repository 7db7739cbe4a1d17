// Package store holds the key-value backends for cached profiles.
//
// A store is created connected, serves reads and writes, and is released with
// Close. Individual operations are atomic per key; callers never observe a
// partially written profile.
package store

import (
	"context"

	"raffle/internal/models"
)

// ProfileStore maps normalized profile keys to cached profiles.
type ProfileStore interface {
	// Get returns the stored profile. ok is false on a miss.
	Get(ctx context.Context, key string) (profile *models.Profile, ok bool, err error)
	// Set stores a copy of profile under key, replacing any previous record.
	Set(ctx context.Context, key string, profile *models.Profile) error
	// Keys returns all stored keys in ascending order.
	Keys(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	// PurgeAll removes every entry and returns how many were removed.
	PurgeAll(ctx context.Context) (int, error)
	// Describe names the backing storage for diagnostics.
	Describe() string
	Close() error
}
