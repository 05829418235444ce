// Package monitor produces the network status panel: node settings plus a
// periodically refreshed snapshot of latency, sync progress and connection
// counts. The figures are simulated from a random source.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/nodedash/service/registry"
	"github.com/brojonat/nodedash/service/sim"
)

// NetworkMode selects the network a node claims to run on.
type NetworkMode string

const (
	Mainnet NetworkMode = "mainnet"
	Testnet NetworkMode = "testnet"
	Devnet  NetworkMode = "devnet"
)

// Valid reports whether m is a known mode.
func (m NetworkMode) Valid() bool {
	switch m {
	case Mainnet, Testnet, Devnet:
		return true
	}
	return false
}

// Settings is the node configuration form.
type Settings struct {
	Port           int         `json:"port"`
	Peers          int         `json:"peers"`
	MaxConnections int         `json:"max_connections"`
	SyncInterval   int         `json:"sync_interval"` // seconds
	NetworkMode    NetworkMode `json:"network_mode"`
}

// DefaultSettings returns the settings a fresh node starts with.
func DefaultSettings() Settings {
	return Settings{
		Port:           3000,
		Peers:          5,
		MaxConnections: 10,
		SyncInterval:   30,
		NetworkMode:    Mainnet,
	}
}

// Validate checks every field and joins all problems into one error.
func (s Settings) Validate() error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", s.Port))
	}
	if s.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("max_connections must be at least 1, got %d", s.MaxConnections))
	}
	if s.Peers < 0 {
		errs = append(errs, fmt.Errorf("peers cannot be negative, got %d", s.Peers))
	} else if s.MaxConnections >= 1 && s.Peers > s.MaxConnections {
		errs = append(errs, fmt.Errorf("peers (%d) cannot exceed max_connections (%d)", s.Peers, s.MaxConnections))
	}
	if s.SyncInterval < 1 {
		errs = append(errs, fmt.Errorf("sync_interval must be at least 1 second, got %d", s.SyncInterval))
	}
	if !s.NetworkMode.Valid() {
		errs = append(errs, fmt.Errorf("network_mode must be mainnet, testnet or devnet, got %q", s.NetworkMode))
	}
	return errors.Join(errs...)
}

// NodeStatus is one row of the status panel.
type NodeStatus struct {
	ID        int    `json:"id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Connected bool   `json:"connected"`
	LatencyMS int    `json:"latency_ms"`
}

// Status is a refreshed snapshot.
type Status struct {
	NetworkMode       NetworkMode  `json:"network_mode"`
	ActiveConnections int          `json:"active_connections"`
	MaxConnections    int          `json:"max_connections"`
	SyncProgress      float64      `json:"sync_progress"`
	Nodes             []NodeStatus `json:"nodes"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// NodeLister provides the node list. *registry.Registry implements it.
type NodeLister interface {
	List() []registry.Node
}

// Monitor owns the settings and the latest status.
type Monitor struct {
	nodes    NodeLister
	source   sim.Source
	sched    *sim.Scheduler
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	settings  Settings
	status    Status
	onRefresh func(Status)
}

// New creates a Monitor with default settings and an initial snapshot.
func New(nodes NodeLister, source sim.Source, sched *sim.Scheduler, interval time.Duration, logger *slog.Logger) *Monitor {
	m := &Monitor{
		nodes:    nodes,
		source:   source,
		sched:    sched,
		interval: interval,
		logger:   logger,
		settings: DefaultSettings(),
	}
	m.Refresh()
	return m
}

// OnRefresh registers fn to receive every new snapshot.
func (m *Monitor) OnRefresh(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRefresh = fn
}

// Settings returns the current settings.
func (m *Monitor) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// UpdateSettings validates and stores s. The next snapshot reflects it.
func (m *Monitor) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()

	m.logger.Info("settings updated",
		"port", s.Port,
		"peers", s.Peers,
		"max_connections", s.MaxConnections,
		"network_mode", s.NetworkMode,
	)
	return nil
}

// Status returns the latest snapshot.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStatus(m.status)
}

// Refresh draws a new snapshot and returns it.
func (m *Monitor) Refresh() Status {
	nodes := m.nodes.List()

	m.mu.Lock()
	settings := m.settings

	st := Status{
		NetworkMode:    settings.NetworkMode,
		MaxConnections: settings.MaxConnections,
		// 95.0 through 99.9
		SyncProgress: 95 + float64(m.source.Intn(50))/10,
		Nodes:        make([]NodeStatus, 0, len(nodes)),
		UpdatedAt:    m.sched.Now().UTC(),
	}

	connected := 0
	for _, n := range nodes {
		ns := NodeStatus{ID: n.ID, Host: n.Host, Port: n.Port, Connected: n.Connected}
		if n.Connected {
			connected++
			ns.LatencyMS = 10 + m.source.Intn(50)
		}
		st.Nodes = append(st.Nodes, ns)
	}
	st.ActiveConnections = min(connected, settings.MaxConnections)

	m.status = st
	onRefresh := m.onRefresh
	m.mu.Unlock()

	if onRefresh != nil {
		onRefresh(copyStatus(st))
	}
	return copyStatus(st)
}

// Run refreshes the snapshot every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.sched.Clock().Ticker(m.interval)
	defer ticker.Stop()

	m.logger.InfoContext(ctx, "starting network monitor", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "network monitor stopped")
			return nil
		case <-ticker.C:
			st := m.Refresh()
			m.logger.DebugContext(ctx, "network status refreshed",
				"active_connections", st.ActiveConnections,
				"sync_progress", st.SyncProgress,
			)
		}
	}
}

func copyStatus(s Status) Status {
	s.Nodes = append([]NodeStatus(nil), s.Nodes...)
	return s
}
