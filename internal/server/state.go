package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/dashboards"
	"github.com/r9s-ai/dashgate/internal/gate"
	"github.com/r9s-ai/dashgate/internal/logx"
)

// state is swapped as a whole on reload; handlers take one snapshot per
// request so a reload never mixes old and new policy within a request.
type state struct {
	mu        sync.RWMutex
	cfg       *config.Config
	gate      *gate.Gate
	store     *dashboards.Store
	startedAt int64

	reloadMu sync.Mutex
	cfgPath  string
	log      *logx.Logger
}

type snapshot struct {
	cfg   *config.Config
	gate  *gate.Gate
	store *dashboards.Store
}

func newState(cfgPath string, cfg *config.Config, logger *logx.Logger) (*state, error) {
	st := &state{cfgPath: cfgPath, log: logger}
	if err := st.apply(cfg); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *state) Snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{cfg: s.cfg, gate: s.gate, store: s.store}
}

func (s *state) StartedAtUnix() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

func (s *state) SetStartedAtUnix(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = ts
}

// Reload re-reads the config file and swaps the runtime. On error the
// previous runtime stays in place.
func (s *state) Reload() error {
	if s == nil {
		return errors.New("reload: nil state")
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	cfg, err := config.LoadOrDefault(s.cfgPath)
	if err != nil {
		return fmt.Errorf("reload config %q: %w", s.cfgPath, err)
	}
	return s.apply(cfg)
}

func (s *state) apply(cfg *config.Config) error {
	g, err := gate.FromConfig(cfg, s.log)
	if err != nil {
		return err
	}
	store := newStore(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.gate = g
	s.store = store
	return nil
}

func newStore(cfg *config.Config) *dashboards.Store {
	var loc dashboards.Locator = dashboards.Shared{}
	if cfg.Dashboards.PerUser {
		loc = dashboards.PerUser{}
	}
	return dashboards.NewStore(cfg.Dashboards.Dir, loc)
}
