package console

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/brojonat/nodedash/service/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 1500 * time.Millisecond

func newTestConsole(outcome OutcomeProvider) (*Console, *clock.Mock) {
	mock := clock.NewMock()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(sim.NewScheduler(mock), outcome, testDelay, logger), mock
}

func waitForStatus(t *testing.T, c *Console, id string, want Status) Entry {
	t.Helper()
	var got Entry
	require.Eventually(t, func() bool {
		e, ok := c.Get(id)
		got = e
		return ok && e.Status == want
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestSubmit_StartsRunning(t *testing.T) {
	c, _ := newTestConsole(sim.FixedOutcome(true))

	e, err := c.Submit(context.Background(), "  node status --verbose  ")
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "node status --verbose", e.Command)
	assert.Equal(t, StatusRunning, e.Status)
	assert.Empty(t, e.Output)
	assert.Nil(t, e.CompletedAt)
	assert.Equal(t, 1, c.Running())
}

func TestSubmit_EmptyCommand(t *testing.T) {
	c, _ := newTestConsole(sim.FixedOutcome(true))

	for _, cmd := range []string{"", "   ", "\t\n"} {
		_, err := c.Submit(context.Background(), cmd)
		assert.ErrorIs(t, err, ErrEmptyCommand)
	}
	assert.Empty(t, c.History())
}

func TestCompletion(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		succeeds   bool
		wantStatus Status
		wantOutput string
	}{
		{"start", "node start --port 3000 --network mainnet", true, StatusSuccess, "Node started successfully. Listening on port 3000"},
		{"stop", "node stop --graceful", true, StatusSuccess, "Node stopped gracefully. All connections closed."},
		{"sync", "node sync --force", true, StatusSuccess, "Blockchain sync initiated. Current progress: 98.5%"},
		{"peers", "node peers list --active", true, StatusSuccess, "Active peers: 8\n1. 192.168.1.101:3000\n2. 192.168.1.102:3000"},
		{"status", "node status", true, StatusSuccess, "Status: Running\nUptime: 2h 15m\nPeers: 8/10\nSync: 98.5%"},
		{"unknown command", "ls -la", true, StatusSuccess, "Command executed successfully."},
		{"failure keeps base output", "node sync --force", false, StatusError, "Blockchain sync initiated. Current progress: 98.5%"},
		{"unknown command failure", "ls -la", false, StatusError, "Command executed successfully."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := newTestConsole(sim.FixedOutcome(tt.succeeds))

			e, err := c.Submit(context.Background(), tt.command)
			require.NoError(t, err)

			mock.Add(testDelay)
			got := waitForStatus(t, c, e.ID, tt.wantStatus)

			assert.Equal(t, tt.wantOutput, got.Output)
			require.NotNil(t, got.CompletedAt)
			assert.Equal(t, e.Timestamp.Add(testDelay), *got.CompletedAt)
			assert.Equal(t, 0, c.Running())
		})
	}
}

func TestCompletion_NotBeforeDelay(t *testing.T) {
	c, mock := newTestConsole(sim.FixedOutcome(true))

	e, err := c.Submit(context.Background(), "node status")
	require.NoError(t, err)

	mock.Add(testDelay - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	got, ok := c.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)

	mock.Add(time.Millisecond)
	waitForStatus(t, c, e.ID, StatusSuccess)
}

func TestCompletion_WeightedOutcome(t *testing.T) {
	src := sim.NewSequenceSource([]float64{0.95, 0.05}, nil)
	c, mock := newTestConsole(sim.WeightedOutcome{Source: src, Rate: 0.9})

	first, err := c.Submit(context.Background(), "node sync")
	require.NoError(t, err)
	mock.Add(testDelay)
	waitForStatus(t, c, first.ID, StatusSuccess)

	second, err := c.Submit(context.Background(), "node sync")
	require.NoError(t, err)
	mock.Add(testDelay)
	waitForStatus(t, c, second.ID, StatusError)
}

func TestCompletion_ExactlyOnce(t *testing.T) {
	c, mock := newTestConsole(sim.FixedOutcome(true))

	var mu sync.Mutex
	var seen []Status
	c.Observe(func(e Entry) {
		mu.Lock()
		seen = append(seen, e.Status)
		mu.Unlock()
	})

	e, err := c.Submit(context.Background(), "node peers")
	require.NoError(t, err)

	mock.Add(testDelay)
	waitForStatus(t, c, e.ID, StatusSuccess)
	mock.Add(10 * testDelay)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusRunning, StatusSuccess}, seen)
}

func TestHistory_NewestFirst(t *testing.T) {
	c, _ := newTestConsole(sim.FixedOutcome(true))

	for _, cmd := range []string{"a", "b", "c"} {
		_, err := c.Submit(context.Background(), cmd)
		require.NoError(t, err)
	}

	h := c.History()
	require.Len(t, h, 3)
	assert.Equal(t, "c", h[0].Command)
	assert.Equal(t, "a", h[2].Command)
}

func TestSubmitPreset(t *testing.T) {
	c, _ := newTestConsole(sim.FixedOutcome(true))

	e, err := c.SubmitPreset(context.Background(), "stop")
	require.NoError(t, err)
	assert.Equal(t, "node stop --graceful", e.Command)

	_, err = c.SubmitPreset(context.Background(), "reboot")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestPresets(t *testing.T) {
	ps := Presets()
	require.Len(t, ps, 5)

	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Description)
	}
	assert.Equal(t, []string{"start", "stop", "sync", "peers", "status"}, ids)

	// Callers get a copy.
	ps[0].Command = "rm -rf /"
	p, ok := LookupPreset("start")
	require.True(t, ok)
	assert.Equal(t, "node start --port 3000 --network mainnet", p.Command)
}

func TestClear_RunningEntryStillCompletes(t *testing.T) {
	c, mock := newTestConsole(sim.FixedOutcome(true))

	done, err := c.Submit(context.Background(), "node stop")
	require.NoError(t, err)
	mock.Add(testDelay)
	waitForStatus(t, c, done.ID, StatusSuccess)

	running, err := c.Submit(context.Background(), "node start")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Clear())
	assert.Empty(t, c.History())

	_, ok := c.Get(done.ID)
	assert.False(t, ok)

	mock.Add(testDelay)
	got := waitForStatus(t, c, running.ID, StatusSuccess)
	assert.Equal(t, "Node started successfully. Listening on port 3000", got.Output)
	assert.Empty(t, c.History())
}

func TestClose_CancelsPending(t *testing.T) {
	c, mock := newTestConsole(sim.FixedOutcome(true))

	e, err := c.Submit(context.Background(), "node sync")
	require.NoError(t, err)

	c.Close()
	assert.Equal(t, 0, c.Running())

	mock.Add(testDelay)
	time.Sleep(10 * time.Millisecond)
	got, _ := c.Get(e.ID)
	assert.Equal(t, StatusRunning, got.Status)

	_, err = c.Submit(context.Background(), "node status")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOutputFor(t *testing.T) {
	assert.Equal(t, "Command executed successfully.", OutputFor("node"))
	assert.Equal(t, "Command executed successfully.", OutputFor("nodes start"))
	assert.Equal(t, outputs["node sync"], OutputFor("node   sync"))
}
