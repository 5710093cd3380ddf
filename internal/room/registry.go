package room

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-canvas/internal/domain"
	"collaborative-canvas/internal/persistence"
)

// codeAlphabet avoids easily confused characters (0/O, 1/I).
const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

// RegistryConfig tunes room lifecycles.
type RegistryConfig struct {
	// GracePeriod is how long an empty room survives before eviction.
	GracePeriod time.Duration
	// IdleTimeout evicts rooms with no activity regardless of membership.
	IdleTimeout time.Duration
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
	// DefaultSettings applies when a create/join supplies none.
	DefaultSettings domain.RoomSettings
}

// DefaultRegistryConfig mirrors the production lifecycle: five minute grace
// for empty rooms, 24 hour idle cutoff, hourly sweep.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		GracePeriod:     5 * time.Minute,
		IdleTimeout:     24 * time.Hour,
		SweepInterval:   time.Hour,
		DefaultSettings: domain.DefaultRoomSettings(),
	}
}

// Registry owns the lifecycle of rooms: creation, lookup, grace-period
// eviction of empty rooms and the periodic idle sweep.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg    RegistryConfig
	store  persistence.Adapter
	log    *logrus.Entry
	logger *logrus.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(cfg RegistryConfig, store persistence.Adapter, logger *logrus.Logger) *Registry {
	if store == nil {
		panic("persistence adapter cannot be nil for Registry")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.DefaultSettings.MaxSessions == 0 {
		cfg.DefaultSettings = domain.DefaultRoomSettings()
	}
	return &Registry{
		rooms:  make(map[string]*Room),
		cfg:    cfg,
		store:  store,
		log:    logger.WithField("component", "room_registry"),
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Create makes a new room. With an empty requestedID a random code is
// generated, retrying a bounded number of times on collision. A taken
// requestedID fails with domain.ErrRoomExists.
func (g *Registry) Create(requestedID string, settings *domain.RoomSettings) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := requestedID
	if id == "" {
		var err error
		id, err = g.generateCodeLocked()
		if err != nil {
			return nil, err
		}
	} else if _, exists := g.rooms[id]; exists {
		return nil, domain.ErrRoomExists
	}

	rm := g.newRoomLocked(id, settings)
	g.log.WithField("room_id", id).Info("Room created")
	return rm, nil
}

// GetOrCreate returns the existing room or atomically creates one with the
// default configuration. Join uses it because clients may reference a room
// before it was explicitly created.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rm, ok := g.rooms[id]; ok {
		return rm
	}
	rm := g.newRoomLocked(id, nil)
	g.log.WithField("room_id", id).Info("Room created on first join")
	return rm
}

// Get looks a room up without creating it.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[id]
	return rm, ok
}

func (g *Registry) newRoomLocked(id string, settings *domain.RoomSettings) *Room {
	s := g.cfg.DefaultSettings
	if settings != nil {
		s = *settings
		if s.MaxSessions <= 0 {
			s.MaxSessions = g.cfg.DefaultSettings.MaxSessions
		}
	}
	rm := New(id, s, g.store, g.scheduleEviction, g.logger)
	g.rooms[id] = rm
	// A created-but-never-joined room is empty from birth; arm the grace
	// check so it does not linger until the idle sweep.
	g.scheduleEviction(id)
	return rm
}

// scheduleEviction arms the grace-period check when a room becomes empty.
// The eviction decision itself runs on the room's loop, so a join landing
// inside the grace window cancels it by simply being there first.
func (g *Registry) scheduleEviction(roomID string) {
	grace := g.cfg.GracePeriod
	time.AfterFunc(grace, func() {
		select {
		case <-g.stop:
			return
		default:
		}
		g.evictIfEmpty(roomID)
	})
}

func (g *Registry) evictIfEmpty(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[roomID]
	if !ok {
		return
	}
	if rm.CloseIfEmpty(g.cfg.GracePeriod) {
		delete(g.rooms, roomID)
		g.log.WithField("room_id", roomID).Info("Empty room evicted")
	}
}

// SweepIdle evicts rooms whose last activity exceeds the idle timeout,
// regardless of membership. Returns how many rooms were evicted.
func (g *Registry) SweepIdle() int {
	g.mu.Lock()
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	evicted := 0
	for _, id := range ids {
		g.mu.Lock()
		rm, ok := g.rooms[id]
		if ok && rm.CloseIfIdle(g.cfg.IdleTimeout) {
			delete(g.rooms, id)
			evicted++
			g.log.WithField("room_id", id).Info("Idle room evicted")
		}
		g.mu.Unlock()
	}
	return evicted
}

// Run drives the periodic idle sweep until Stop is called.
func (g *Registry) Run() {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	g.log.Info("Room registry sweep loop running")
	for {
		select {
		case <-ticker.C:
			if n := g.SweepIdle(); n > 0 {
				g.log.WithField("evicted", n).Info("Idle sweep complete")
			}
		case <-g.stop:
			g.log.Info("Room registry sweep loop stopped")
			return
		}
	}
}

// Stop halts the sweep loop and closes every room.
func (g *Registry) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, rm := range g.rooms {
		rm.Close()
		delete(g.rooms, id)
	}
}

// List returns summaries of all current rooms.
func (g *Registry) List() []domain.RoomSummary {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.mu.Unlock()

	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		sum, err := rm.Summary()
		if err != nil {
			continue // closed between snapshot and summary
		}
		out = append(out, sum)
	}
	return out
}

// Stats reports the current room and session totals.
func (g *Registry) Stats() (rooms, sessions int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms = len(g.rooms)
	for _, rm := range g.rooms {
		sessions += rm.SessionCount()
	}
	return rooms, sessions
}

// generateCodeLocked draws random codes until one is free, giving up after a
// bounded number of attempts.
func (g *Registry) generateCodeLocked() (string, error) {
	buf := make([]byte, codeLength)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code := make([]byte, codeLength)
		for i := range buf {
			code[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		id := string(code)
		if _, exists := g.rooms[id]; !exists {
			return id, nil
		}
		g.log.WithField("room_id", id).Warnf("Generated room code already exists, retrying (attempt %d)", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique room code after %d attempts", maxCodeAttempts)
}
