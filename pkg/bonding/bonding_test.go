package bonding

import (
	"sync"
	"testing"
	"time"

	"github.com/KEGustafsson/signalk-edge-link-sub000/internal/edgelog"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	primary := LinkConfig{Name: "primary", Address: "127.0.0.1", Port: 41001}
	backup := LinkConfig{Name: "backup", Address: "127.0.0.1", Port: 41002}
	params := DefaultFailoverParams()
	params.HealthCheckInterval = 10 * time.Millisecond
	params.HeartbeatTimeout = 30 * time.Millisecond
	m, err := New(primary, backup, params, edgelog.Default("bonding-test"), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestInitialStateActivePrimary(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()
	if m.ActiveLink() != "primary" {
		t.Fatalf("expected primary active initially, got %s", m.ActiveLink())
	}
	ph, _ := m.Health("primary")
	bh, _ := m.Health("backup")
	if ph.Status != StatusActive {
		t.Fatalf("expected primary ACTIVE, got %v", ph.Status)
	}
	if bh.Status != StatusStandby {
		t.Fatalf("expected backup STANDBY, got %v", bh.Status)
	}
}

func TestTransitionIsIdempotentWhenAlreadyActive(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()
	m.transition("backup", "primary") // already active; should no-op
	if m.ActiveLink() != "primary" {
		t.Fatalf("expected no change, got %s", m.ActiveLink())
	}
}

func TestFailoverEmitsNotificationAndCallback(t *testing.T) {
	var mu sync.Mutex
	var notified deltamodel.Delta
	var gotNotify bool
	var fromCB, toCB string

	primary := LinkConfig{Name: "primary", Address: "127.0.0.1", Port: 41011}
	backup := LinkConfig{Name: "backup", Address: "127.0.0.1", Port: 41012}
	params := DefaultFailoverParams()
	m, err := New(primary, backup, params, edgelog.Default("bonding-test"), nil, func(d deltamodel.Delta) {
		mu.Lock()
		notified = d
		gotNotify = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop()
	m.SetFailoverCallback(func(from, to string) {
		mu.Lock()
		fromCB, toCB = from, to
		mu.Unlock()
	})

	m.transition("primary", "backup")

	mu.Lock()
	defer mu.Unlock()
	if !gotNotify {
		t.Fatalf("expected notification delta emitted")
	}
	if notified.Updates[0].Values[0].Path.StringVal() != "notifications.signalk-edge-link.linkFailover" {
		t.Fatalf("unexpected notification path: %+v", notified)
	}
	msg := notified.Updates[0].Values[0].Value.(map[string]interface{})["message"]
	if msg != "Link switched: primary to backup" {
		t.Fatalf("unexpected notification message, got %q", msg)
	}
	if fromCB != "primary" || toCB != "backup" {
		t.Fatalf("expected callback(primary, backup), got (%s, %s)", fromCB, toCB)
	}
	if m.ActiveLink() != "backup" {
		t.Fatalf("expected backup active after transition, got %s", m.ActiveLink())
	}
}

func TestShouldFailoverOnHighRTTAndFailoverSwitchesToBackup(t *testing.T) {
	var mu sync.Mutex
	var messages []string

	primary := LinkConfig{Name: "primary", Address: "127.0.0.1", Port: 41021}
	backup := LinkConfig{Name: "backup", Address: "127.0.0.1", Port: 41022}
	params := DefaultFailoverParams()
	params.RTTThreshold = 500 * time.Millisecond
	m, err := New(primary, backup, params, edgelog.Default("bonding-test"), nil, func(d deltamodel.Delta) {
		mu.Lock()
		msg := d.Updates[0].Values[0].Value.(map[string]interface{})["message"].(string)
		messages = append(messages, msg)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop()

	pl := m.links["primary"]
	pl.mu.Lock()
	pl.rttEMAMs = 600
	pl.haveRTT = true
	pl.mu.Unlock()

	if !m.ShouldFailover() {
		t.Fatalf("expected ShouldFailover with primary rtt 600ms over 500ms threshold")
	}
	if !m.Failover() {
		t.Fatalf("expected Failover to switch links")
	}
	if m.ActiveLink() != "backup" {
		t.Fatalf("expected backup active after failover, got %s", m.ActiveLink())
	}

	mu.Lock()
	got := append([]string(nil), messages...)
	mu.Unlock()
	if len(got) != 1 || got[0] != "Link switched: primary to backup" {
		t.Fatalf("unexpected notifications: %v", got)
	}

	// Failover while already on the backup is a no-op: no second
	// notification, no state change.
	if m.Failover() {
		t.Fatalf("expected repeated Failover to be a no-op")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 {
		t.Fatalf("expected no further notification, got %v", messages)
	}
}

func TestShouldFailoverSuppressedWhenBackupDown(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()

	pl := m.links["primary"]
	pl.mu.Lock()
	pl.status = StatusDown
	pl.mu.Unlock()

	bl := m.links["backup"]
	bl.mu.Lock()
	bl.status = StatusDown
	bl.mu.Unlock()

	if m.ShouldFailover() {
		t.Fatalf("expected failover suppressed while backup is DOWN")
	}
}

func TestHealthTickMarksLinkDownAfterMissedHeartbeats(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()
	m.Start()

	deadline := time.After(2 * time.Second)
	for {
		ph, _ := m.Health("primary")
		if ph.Status == StatusDown {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected primary link to be marked DOWN after missed heartbeats (no responder listening), got %v", ph.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
