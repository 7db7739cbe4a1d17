package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"

	"raffle/internal/apperr"
	"raffle/internal/metrics"
	"raffle/internal/models"
)

// ProfileSource resolves a username to its cached profile.
type ProfileSource interface {
	GetProfile(ctx context.Context, raw string) (*models.Profile, error)
}

// RaffleSession holds the data for a single user/tenant.
type RaffleSession struct {
	mu           sync.Mutex
	participants []models.Participant
	hosts        HostList
	results      []models.DrawResult
	lastActivity time.Time

	draw *DrawSession
}

// DrawStatus is a snapshot of a tenant's draw state.
type DrawStatus struct {
	State        string              `json:"state"`
	Winner       *models.Participant `json:"winner,omitempty"`
	Participants int                 `json:"participants"`
}

// RaffleService manages multiple raffle sessions.
type RaffleService struct {
	mu       sync.RWMutex
	sessions map[string]*RaffleSession // Key: tenantID

	engine      *DrawEngine
	profiles    ProfileSource
	clock       clockwork.Clock
	idleTimeout time.Duration
}

// NewRaffleService creates and initializes a new RaffleService. profiles may be
// nil, in which case winners and hosts are not enriched.
func NewRaffleService(engine *DrawEngine, profiles ProfileSource, clock clockwork.Clock, idleTimeout time.Duration) *RaffleService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	return &RaffleService{
		sessions:    make(map[string]*RaffleSession),
		engine:      engine,
		profiles:    profiles,
		clock:       clock,
		idleTimeout: idleTimeout,
	}
}

// getSession returns a session for a tenant, creating one if it doesn't exist.
func (s *RaffleService) getSession(tenantID string) *RaffleSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[tenantID]
	if !exists {
		session = &RaffleSession{
			draw: NewDrawSession(s.engine),
		}
		s.sessions[tenantID] = session
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	session.mu.Lock()
	session.lastActivity = s.clock.Now()
	session.mu.Unlock()
	return session
}

// ImportParticipants replaces the tenant's participant list wholesale.
// Empty ids are filled with the 1-based position, or the next free number if
// that is taken; explicit ids must be unique.
func (s *RaffleService) ImportParticipants(tenantID string, participants []models.Participant) ([]models.Participant, error) {
	batch := cloneParticipants(participants)
	positions := make([]int, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for i, p := range batch {
		if p.Name == "" || p.Username == "" {
			return nil, apperr.NewInvalidArgument("participant name and username are required", "position", i+1)
		}
		positions[i] = i + 1
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			return nil, apperr.NewInvalidArgument("participant id is not unique", "id", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	fillMissingIDs(batch, positions)

	session := s.getSession(tenantID)
	session.draw.Reset()

	session.mu.Lock()
	session.participants = batch
	session.mu.Unlock()

	logger.Infof("Imported %d participants for tenant: %s", len(batch), tenantID)
	return cloneParticipants(batch), nil
}

// Participants returns the participants for a specific tenant.
func (s *RaffleService) Participants(tenantID string) []models.Participant {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return cloneParticipants(session.participants)
}

// SearchParticipants returns the participants whose name or username contains
// query, ignoring case, along with the size of the full list. An empty query
// matches everyone.
func (s *RaffleService) SearchParticipants(tenantID, query string) ([]models.Participant, int) {
	all := s.Participants(tenantID)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all, len(all)
	}

	matches := make([]models.Participant, 0, len(all))
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), query) || strings.Contains(strings.ToLower(p.Username), query) {
			matches = append(matches, p)
		}
	}
	return matches, len(all)
}

// ClearParticipants removes the participant list and resets the draw.
func (s *RaffleService) ClearParticipants(tenantID string) {
	session := s.getSession(tenantID)
	session.draw.Reset()
	session.mu.Lock()
	session.participants = nil
	session.mu.Unlock()
}

// Draw performs the raffle draw for a specific tenant. The suspense phase lasts
// duration; onHighlight receives each decorative pick. The winner is enriched
// with their profile when available; a failed lookup is recorded on the result
// and never prevents the winner from being returned.
func (s *RaffleService) Draw(ctx context.Context, tenantID string, duration time.Duration, onHighlight func(models.Participant)) (*models.DrawResult, error) {
	session := s.getSession(tenantID)

	session.mu.Lock()
	participants := cloneParticipants(session.participants)
	session.mu.Unlock()

	winner, err := session.draw.Run(ctx, participants, duration, onHighlight)
	if err != nil {
		return nil, err
	}

	result := models.DrawResult{
		Winner:  winner,
		DrawnAt: s.clock.Now(),
	}
	if s.profiles != nil {
		profile, err := s.profiles.GetProfile(ctx, winner.Username)
		if err != nil {
			logger.Warningf("Profile enrichment failed for winner %s: %v", winner.Username, err)
			result.ProfileError = err.Error()
		} else {
			result.Profile = profile
		}
	}

	session.mu.Lock()
	session.results = append(session.results, result)
	session.mu.Unlock()

	logger.Infof("Tenant %s drew winner %s (@%s)", tenantID, winner.Name, winner.Username)
	return &result, nil
}

// CheckDrawReady reports why a draw could not start right now: no
// participants, or a suspense phase already running. Run checks again when
// the draw actually starts.
func (s *RaffleService) CheckDrawReady(tenantID string) error {
	session := s.getSession(tenantID)

	session.mu.Lock()
	n := len(session.participants)
	session.mu.Unlock()
	if n == 0 {
		return apperr.NewInvalidArgument("no participants to draw from", "participants", 0)
	}
	if session.draw.State() == StateSuspense {
		return apperr.NewDrawInProgress()
	}
	return nil
}

// CancelDraw stops a running suspense phase.
func (s *RaffleService) CancelDraw(tenantID string) bool {
	return s.getSession(tenantID).draw.Cancel()
}

// ResetDraw returns the tenant's draw to idle, keeping participants and results.
func (s *RaffleService) ResetDraw(tenantID string) {
	s.getSession(tenantID).draw.Reset()
}

// DrawStatus reports the tenant's current draw state.
func (s *RaffleService) DrawStatus(tenantID string) DrawStatus {
	session := s.getSession(tenantID)

	status := DrawStatus{State: session.draw.State().String()}
	if w, ok := session.draw.Winner(); ok {
		status.Winner = &w
	}
	session.mu.Lock()
	status.Participants = len(session.participants)
	session.mu.Unlock()
	return status
}

// Results returns the draw history for a specific tenant.
func (s *RaffleService) Results(tenantID string) []models.DrawResult {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	out := make([]models.DrawResult, len(session.results))
	copy(out, session.results)
	return out
}

// AddHosts resolves usernames to profiles concurrently and appends them to the
// tenant's host list in the given order. Capacity and duplicates are checked
// before any lookup and again on insert; on any error nothing is added.
func (s *RaffleService) AddHosts(ctx context.Context, tenantID string, usernames []string) ([]models.Profile, error) {
	if len(usernames) == 0 {
		return nil, apperr.NewInvalidArgument("at least one username is required", "usernames", 0)
	}
	if s.profiles == nil {
		return nil, apperr.NewConfigurationError("profile lookups are not configured")
	}

	keys := make([]string, len(usernames))
	for i, u := range usernames {
		key, err := NormalizeKey(u)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	session := s.getSession(tenantID)
	session.mu.Lock()
	err := session.hosts.CanAdd(keys...)
	session.mu.Unlock()
	if err != nil {
		return nil, err
	}

	profiles := make([]models.Profile, len(keys))
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(MaxHosts)
	for i, key := range keys {
		p.Go(func(ctx context.Context) error {
			profile, err := s.profiles.GetProfile(ctx, key)
			if err != nil {
				return err
			}
			profiles[i] = *profile
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		logger.Warningf("Failed to fetch host profiles for tenant %s: %v", tenantID, err)
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.hosts.Add(keys, profiles); err != nil {
		return nil, err
	}
	return session.hosts.List(), nil
}

// RemoveHost deletes the host at index.
func (s *RaffleService) RemoveHost(tenantID string, index int) ([]models.Profile, error) {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.hosts.Remove(index); err != nil {
		return nil, err
	}
	return session.hosts.List(), nil
}

// Hosts returns the tenant's hosts in display order.
func (s *RaffleService) Hosts(tenantID string) []models.Profile {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.hosts.List()
}

// CleanUpInactiveSessions removes sessions that have been idle longer than the
// configured timeout and returns how many were removed.
func (s *RaffleService) CleanUpInactiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for tenantID, session := range s.sessions {
		session.mu.Lock()
		idle := now.Sub(session.lastActivity)
		session.mu.Unlock()

		if idle > s.idleTimeout && session.draw.State() != StateSuspense {
			session.draw.Reset()
			delete(s.sessions, tenantID)
			removed++
			logger.Infof("Removed inactive session for tenant: %s (idle %s)", tenantID, idle.Round(time.Second))
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

// ClearSession removes all data associated with a specific tenant.
func (s *RaffleService) ClearSession(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[tenantID]; ok {
		session.draw.Reset()
		delete(s.sessions, tenantID)
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	logger.Infof("Cleared session for tenant: %s", tenantID)
}

// SessionCount returns the number of live tenant sessions.
func (s *RaffleService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func cloneParticipants(in []models.Participant) []models.Participant {
	out := make([]models.Participant, len(in))
	copy(out, in)
	return out
}
