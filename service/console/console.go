// Package console keeps the command history of the node console. Commands
// are never executed: each entry starts running and is resolved to success
// or error by a delayed task whose outcome comes from an OutcomeProvider.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/nodedash/service/sim"
	"github.com/google/uuid"
)

var (
	ErrEmptyCommand  = errors.New("command cannot be empty")
	ErrUnknownPreset = errors.New("unknown preset")
	ErrClosed        = errors.New("console is closed")
)

// Status is the lifecycle state of a command entry.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Entry is one logged command.
type Entry struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Timestamp   time.Time  `json:"timestamp"`
	Status      Status     `json:"status"`
	Output      string     `json:"output,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Preset is a canned command offered next to the input box.
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

var presets = []Preset{
	{ID: "start", Name: "Start Node", Command: "node start --port 3000 --network mainnet", Description: "Start a new node instance"},
	{ID: "stop", Name: "Stop Node", Command: "node stop --graceful", Description: "Gracefully stop the node"},
	{ID: "sync", Name: "Sync Blockchain", Command: "node sync --force", Description: "Force sync with network"},
	{ID: "peers", Name: "List Peers", Command: "node peers list --active", Description: "Show active peer connections"},
	{ID: "status", Name: "Node Status", Command: "node status --verbose", Description: "Display detailed node status"},
}

// Presets returns the canned commands in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset finds a preset by id.
func LookupPreset(id string) (Preset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// Keyed by the first two words of the command.
var outputs = map[string]string{
	"node start":  "Node started successfully. Listening on port 3000",
	"node stop":   "Node stopped gracefully. All connections closed.",
	"node sync":   "Blockchain sync initiated. Current progress: 98.5%",
	"node peers":  "Active peers: 8\n1. 192.168.1.101:3000\n2. 192.168.1.102:3000",
	"node status": "Status: Running\nUptime: 2h 15m\nPeers: 8/10\nSync: 98.5%",
}

const defaultOutput = "Command executed successfully."

// LookupOutput returns the canned output for a two-word base command such as
// "node sync".
func LookupOutput(base string) (string, bool) {
	out, ok := outputs[base]
	return out, ok
}

// OutputFor returns the canned output for command. The output does not
// depend on whether the command succeeded.
func OutputFor(command string) string {
	fields := strings.Fields(command)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	if out, ok := outputs[strings.Join(fields, " ")]; ok {
		return out
	}
	return defaultOutput
}

// OutcomeProvider decides whether a command succeeds. sim.WeightedOutcome and
// sim.FixedOutcome implement it.
type OutcomeProvider interface {
	Succeeds(command string) bool
}

// Observer is notified with a copy of the entry after every state change.
type Observer func(Entry)

// Console is the command history plus the pending completions.
type Console struct {
	sched   *sim.Scheduler
	outcome OutcomeProvider
	delay   time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	entries   []*Entry // newest first
	byID      map[string]*Entry
	tasks     map[string]*sim.Task
	observers []Observer
	closed    bool
}

// New creates a Console that resolves commands delay after submission.
func New(sched *sim.Scheduler, outcome OutcomeProvider, delay time.Duration, logger *slog.Logger) *Console {
	return &Console{
		sched:   sched,
		outcome: outcome,
		delay:   delay,
		logger:  logger,
		byID:    make(map[string]*Entry),
		tasks:   make(map[string]*sim.Task),
	}
}

// Observe registers fn for state changes.
func (c *Console) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Submit logs command as running and schedules its completion.
func (c *Console) Submit(ctx context.Context, command string) (Entry, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Entry{}, ErrEmptyCommand
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Entry{}, ErrClosed
	}
	e := &Entry{
		ID:        uuid.NewString(),
		Command:   command,
		Timestamp: c.sched.Now().UTC(),
		Status:    StatusRunning,
	}
	c.entries = append([]*Entry{e}, c.entries...)
	c.byID[e.ID] = e
	id := e.ID
	c.tasks[id] = c.sched.After(c.delay, func() { c.complete(id) })
	snapshot := *e
	observers := c.observers
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "command submitted", "id", id, "command", command)
	notify(observers, snapshot)
	return snapshot, nil
}

// SubmitPreset submits the command of the preset with the given id.
func (c *Console) SubmitPreset(ctx context.Context, presetID string) (Entry, error) {
	p, ok := LookupPreset(presetID)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", presetID, ErrUnknownPreset)
	}
	return c.Submit(ctx, p.Command)
}

func (c *Console) complete(id string) {
	c.mu.Lock()
	delete(c.tasks, id)
	e, ok := c.byID[id]
	if !ok || e.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	e.Status = StatusError
	if c.outcome.Succeeds(e.Command) {
		e.Status = StatusSuccess
	}
	e.Output = OutputFor(e.Command)
	done := c.sched.Now().UTC()
	e.CompletedAt = &done
	snapshot := *e
	observers := c.observers
	c.mu.Unlock()

	c.logger.Info("command completed", "id", id, "status", snapshot.Status)
	notify(observers, snapshot)
}

func notify(observers []Observer, e Entry) {
	for _, fn := range observers {
		fn(e)
	}
}

// History returns the listed entries, newest first.
func (c *Console) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Get returns the entry with id. An entry cleared while still running stays
// reachable here.
func (c *Console) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Clear empties the listed history and returns how many entries it removed.
// Running entries keep their scheduled completion and stay reachable via Get.
func (c *Console) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = nil
	for id, e := range c.byID {
		if e.Status.Terminal() {
			delete(c.byID, id)
		}
	}
	return n
}

// Running returns the number of entries still waiting for an outcome.
func (c *Console) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Close cancels every scheduled completion and rejects further submissions.
// Entries left running stay running.
func (c *Console) Close() {
	c.mu.Lock()
	c.closed = true
	tasks := c.tasks
	c.tasks = make(map[string]*sim.Task)
	c.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}
