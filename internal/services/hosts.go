package services

import (
	"raffle/internal/apperr"
	"raffle/internal/models"
)

// MaxHosts is the number of hosts a raffle can display.
const MaxHosts = 3

// HostList is the ordered, deduplicated list of raffle hosts.
// It is not safe for concurrent use; RaffleSession guards it.
type HostList struct {
	hosts []models.Profile
	keys  []string
}

// CanAdd checks whether keys could be appended without exceeding MaxHosts or
// repeating a key already present (or repeated within keys).
func (h *HostList) CanAdd(keys ...string) error {
	seen := make(map[string]struct{}, len(h.keys)+len(keys))
	for _, k := range h.keys {
		seen[k] = struct{}{}
	}
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return apperr.NewDuplicateHost(k)
		}
		seen[k] = struct{}{}
	}
	if len(h.keys)+len(keys) > MaxHosts {
		return apperr.NewHostLimit(MaxHosts)
	}
	return nil
}

// Add appends profiles under their normalized keys. Either all are added or none.
func (h *HostList) Add(keys []string, profiles []models.Profile) error {
	if err := h.CanAdd(keys...); err != nil {
		return err
	}
	h.keys = append(h.keys, keys...)
	h.hosts = append(h.hosts, profiles...)
	return nil
}

// Remove deletes the host at index.
func (h *HostList) Remove(index int) error {
	if index < 0 || index >= len(h.hosts) {
		return apperr.NewInvalidArgument("host index out of range", "index", index)
	}
	h.hosts = append(h.hosts[:index], h.hosts[index+1:]...)
	h.keys = append(h.keys[:index], h.keys[index+1:]...)
	return nil
}

// List returns a copy of the hosts in display order.
func (h *HostList) List() []models.Profile {
	out := make([]models.Profile, len(h.hosts))
	copy(out, h.hosts)
	return out
}

func (h *HostList) Len() int {
	return len(h.hosts)
}
