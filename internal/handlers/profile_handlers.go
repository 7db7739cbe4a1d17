package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GetProfile returns the cached profile for an identifier, fetching it on a miss.
func (h *HTTPHandler) GetProfile(c *gin.Context) {
	lookup, err := h.profiles.Lookup(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		respondError(c, err)
		return
	}

	if lookup.Cached {
		c.Header("X-Cache", "HIT")
		c.Header("X-Cache-Age", strconv.Itoa(int(lookup.Age/time.Second)))
		if lookup.Stale {
			c.Header("X-Cache-Stale", "true")
		}
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, lookup.Profile)
}

// RefreshProfile refetches an identifier from upstream and overwrites the cache entry.
func (h *HTTPHandler) RefreshProfile(c *gin.Context) {
	profile, err := h.profiles.RefreshProfile(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("X-Cache", "REFRESH")
	c.JSON(http.StatusOK, profile)
}

// CacheStats lists cached keys.
func (h *HTTPHandler) CacheStats(c *gin.Context) {
	ctx := c.Request.Context()

	keys, err := h.profiles.ListKeys(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totalEntries":       len(keys),
		"cachedKeys":         keys,
		"storageDescription": h.profiles.StorageDescription(),
		"freshnessWindow":    h.profiles.FreshnessWindow().String(),
	})
}

// PurgeCache removes every cached profile. Confirmation is the client's job.
func (h *HTTPHandler) PurgeCache(c *gin.Context) {
	ctx := c.Request.Context()

	removed, err := h.profiles.PurgeAll(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	remaining, err := h.profiles.Count(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":          "Cache cleanup completed",
		"removedEntries":   removed,
		"remainingEntries": remaining,
	})
}
