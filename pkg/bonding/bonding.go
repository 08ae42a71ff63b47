// Package bonding implements the dual-link bonding manager: two
// independent UDP links ("primary", "backup"), each health-probed
// with a heartbeat datagram, with an EMA-based quality score driving
// a hysteresis failover/failback state machine.
package bonding

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"

	"github.com/KEGustafsson/signalk-edge-link-sub000/internal/edgelog"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/wire"
)

// Status is a link's health classification.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusStandby
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusStandby:
		return "STANDBY"
	case StatusDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// LinkConfig names one endpoint of the bond.
type LinkConfig struct {
	Name      string
	Address   string
	Port      int
	Interface string // optional local interface to bind the socket to
}

// FailoverParams holds the thresholds and timers mapped from the
// bonding.failover.* configuration inputs.
type FailoverParams struct {
	RTTThreshold        time.Duration
	LossThreshold       float64
	HealthCheckInterval time.Duration
	FailbackDelay       time.Duration
	HeartbeatTimeout    time.Duration
	RTTHysteresis       float64
	LossHysteresis      float64
	EMAAlpha            float64
}

// DefaultFailoverParams is a reasonable default profile.
func DefaultFailoverParams() FailoverParams {
	return FailoverParams{
		RTTThreshold:        300 * time.Millisecond,
		LossThreshold:       0.2,
		HealthCheckInterval: time.Second,
		FailbackDelay:       10 * time.Second,
		HeartbeatTimeout:    3 * time.Second,
		RTTHysteresis:       0.5,
		LossHysteresis:      0.5,
		EMAAlpha:            0.3,
	}
}

// Health is a point-in-time snapshot of one link's state.
type Health struct {
	Status  Status
	RTT     time.Duration
	Loss    float64
	Quality int
}

type link struct {
	mu sync.Mutex

	name   string
	conn   *net.UDPConn
	remote *net.UDPAddr
	status Status

	rttEMAMs float64
	haveRTT  bool
	loss     float64
	quality  int

	heartbeatsSent     int
	heartbeatsReceived int
	nextSeq            uint32
	pending            map[uint32]time.Time
	lastResponseAt     time.Time
}

func (l *link) snapshot() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Health{
		Status:  l.status,
		RTT:     time.Duration(l.rttEMAMs) * time.Millisecond,
		Loss:    l.loss,
		Quality: l.quality,
	}
}

// Manager runs the two-link bond.
type Manager struct {
	mu sync.Mutex

	params FailoverParams
	links  map[string]*link
	order  []string // ["primary", "backup"]
	active string

	lastFailoverTime time.Time

	onControlPacket func(linkName string, payload []byte)
	onNotification  func(deltamodel.Delta)
	onFailover      func(from, to string)

	log *edgelog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager for the given primary/backup configs. The
// onControlPacket sink receives every non-heartbeat datagram; this is
// how ACKs/NAKs reach the client pipeline when bonded, without a
// back-reference from bonding into the pipeline.
func New(primary, backup LinkConfig, params FailoverParams, log *edgelog.Logger, onControlPacket func(string, []byte), onNotification func(deltamodel.Delta)) (*Manager, error) {
	m := &Manager{
		params:          params,
		links:           make(map[string]*link),
		order:           []string{primary.Name, backup.Name},
		active:          primary.Name,
		onControlPacket: onControlPacket,
		onNotification:  onNotification,
		log:             log,
		stopCh:          make(chan struct{}),
	}

	for i, cfg := range []LinkConfig{primary, backup} {
		l, err := newLink(cfg)
		if err != nil {
			return nil, fmt.Errorf("bonding: link %s: %w", cfg.Name, err)
		}
		if i == 0 {
			l.status = StatusActive
		} else {
			l.status = StatusStandby
		}
		m.links[cfg.Name] = l
	}
	return m, nil
}

func newLink(cfg LinkConfig) (*link, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Address, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("resolve remote: %w", err)
	}
	var laddr *net.UDPAddr
	if cfg.Interface != "" {
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", cfg.Interface, err)
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("interface %s has no address", cfg.Interface)
		}
		if ipNet, ok := addrs[0].(*net.IPNet); ok {
			laddr = &net.UDPAddr{IP: ipNet.IP}
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &link{
		name:    cfg.Name,
		conn:    conn,
		remote:  remote,
		pending: make(map[uint32]time.Time),
	}, nil
}

// SetFailoverCallback registers an optional user callback invoked on
// every failover/failback transition.
func (m *Manager) SetFailoverCallback(cb func(from, to string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailover = cb
}

// Start begins the health monitor and per-link receive loops.
func (m *Manager) Start() {
	for _, l := range m.links {
		l := l
		m.wg.Add(1)
		go m.receiveLoop(l)
	}
	m.wg.Add(1)
	go m.healthLoop()
}

// Stop cancels timers, closes both sockets, and clears pending
// heartbeat/RTT state. Both links are always closed; their close
// errors are aggregated rather than the first one masking the second.
func (m *Manager) Stop() error {
	close(m.stopCh)
	var result *multierror.Error
	for _, name := range m.order {
		l := m.links[name]
		if err := l.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.wg.Wait()
	for _, l := range m.links {
		l.mu.Lock()
		l.pending = make(map[uint32]time.Time)
		l.haveRTT = false
		l.mu.Unlock()
	}
	return result.ErrorOrNil()
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.params.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.healthTick()
		}
	}
}

func (m *Manager) healthTick() {
	now := time.Now()
	for _, name := range m.order {
		l := m.links[name]
		l.mu.Lock()
		if l.status == StatusDown {
			l.mu.Unlock()
			continue
		}
		seq := l.nextSeq
		l.nextSeq++
		l.pending[seq] = now
		l.heartbeatsSent++
		for s, sentAt := range l.pending {
			if now.Sub(sentAt) > m.params.HeartbeatTimeout {
				delete(l.pending, s)
			}
		}
		sent, received, hbTimeout := l.heartbeatsSent, l.heartbeatsReceived, m.params.HeartbeatTimeout
		lastResp := l.lastResponseAt
		l.mu.Unlock()

		probe := wire.EncodeHeartbeat(seq)
		if _, err := l.conn.WriteToUDP(probe, l.remote); err != nil {
			m.log.Warn("heartbeat send failed on %s: %v", name, err)
		}

		loss := clamp01(1 - safeDiv(float64(received), float64(sent)))
		l.mu.Lock()
		l.loss = loss
		rttScore := clamp01(1 - l.rttEMAMs/1000)
		lossScore := clamp01(1 - l.loss)
		l.quality = int(round(60*lossScore + 40*rttScore))
		downNow := sent > 3 && (lastResp.IsZero() || now.Sub(lastResp) > hbTimeout)
		if downNow && l.status != StatusDown {
			l.status = StatusDown
			m.log.Warn("link %s marked DOWN (sent=%d recv=%d)", name, sent, received)
		}
		l.mu.Unlock()
	}
	m.evaluateFailoverFailback()
}

func (m *Manager) receiveLoop(l *link) {
	defer m.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				continue
			}
		}
		payload := append([]byte(nil), buf[:n]...)
		if wire.IsHeartbeatProbe(payload) {
			m.handleHeartbeatResponse(l, payload)
			continue
		}
		if m.onControlPacket != nil {
			m.onControlPacket(l.name, payload)
		}
	}
}

func (m *Manager) handleHeartbeatResponse(l *link, payload []byte) {
	seq := wire.DecodeHeartbeat(payload)
	now := time.Now()

	l.mu.Lock()
	sendTime, ok := l.pending[seq]
	if !ok {
		l.mu.Unlock()
		return
	}
	delete(l.pending, seq)
	l.heartbeatsReceived++
	l.lastResponseAt = now
	rtt := float64(now.Sub(sendTime).Milliseconds())
	if !l.haveRTT {
		l.rttEMAMs = rtt
		l.haveRTT = true
	} else {
		a := m.params.EMAAlpha
		l.rttEMAMs = a*rtt + (1-a)*l.rttEMAMs
	}
	wasDown := l.status == StatusDown
	l.mu.Unlock()

	if wasDown {
		m.mu.Lock()
		isActive := m.active == l.name
		m.mu.Unlock()
		l.mu.Lock()
		if isActive {
			l.status = StatusActive
		} else {
			l.status = StatusStandby
		}
		l.mu.Unlock()
	}
}

// evaluateFailoverFailback applies the failover and failback
// decision rules after each health tick.
func (m *Manager) evaluateFailoverFailback() {
	m.mu.Lock()
	primaryName, backupName := m.order[0], m.order[1]
	primary := m.links[primaryName]
	backup := m.links[backupName]
	active := m.active
	lastFailover := m.lastFailoverTime
	m.mu.Unlock()

	ph := primary.snapshot()
	bh := backup.snapshot()

	if active == primaryName {
		trigger := ph.Status == StatusDown || ph.RTT > m.params.RTTThreshold || ph.Loss > m.params.LossThreshold
		suppressed := bh.Status == StatusDown
		if trigger && !suppressed {
			m.transition(primaryName, backupName)
		}
		return
	}

	if time.Since(lastFailover) >= m.params.FailbackDelay &&
		ph.Status != StatusDown &&
		float64(ph.RTT) < float64(m.params.RTTThreshold)*m.params.RTTHysteresis &&
		ph.Loss < m.params.LossThreshold*m.params.LossHysteresis {
		m.transition(backupName, primaryName)
	}
}

// transition swaps ACTIVE/STANDBY between from and to, preserving DOWN
// on the outgoing link. Idempotent when to is already active.
func (m *Manager) transition(from, to string) {
	m.mu.Lock()
	if m.active == to {
		m.mu.Unlock()
		return
	}
	fromLink := m.links[from]
	toLink := m.links[to]

	fromLink.mu.Lock()
	if fromLink.status != StatusDown {
		fromLink.status = StatusStandby
	}
	fromLink.mu.Unlock()

	toLink.mu.Lock()
	if toLink.status != StatusDown {
		toLink.status = StatusActive
	}
	toLink.mu.Unlock()

	m.active = to
	m.lastFailoverTime = time.Now()
	cb := m.onFailover
	notify := m.onNotification
	m.mu.Unlock()

	m.log.Warn("bonding failover %s -> %s (%s)", from, to, xid.New().String())
	if notify != nil {
		notify(failoverNotification(from, to))
	}
	if cb != nil {
		cb(from, to)
	}
}

func failoverNotification(from, to string) deltamodel.Delta {
	return deltamodel.Delta{
		Context: "vessels.self",
		Updates: []deltamodel.Update{
			{
				Source:    map[string]interface{}{"label": "signalk-edge-link"},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Values: []deltamodel.Value{
					{
						Path: deltamodel.Name("notifications.signalk-edge-link.linkFailover"),
						Value: map[string]interface{}{
							"state":   "alert",
							"message": fmt.Sprintf("Link switched: %s to %s", from, to),
						},
					},
				},
			},
		},
	}
}

// ShouldFailover evaluates the failover decision rule without acting
// on it: primary down, over-RTT, or over-loss, suppressed when the
// backup is itself down. False while already on the backup link.
func (m *Manager) ShouldFailover() bool {
	m.mu.Lock()
	primaryName, backupName := m.order[0], m.order[1]
	active := m.active
	m.mu.Unlock()
	if active != primaryName {
		return false
	}
	ph := m.links[primaryName].snapshot()
	bh := m.links[backupName].snapshot()
	trigger := ph.Status == StatusDown || ph.RTT > m.params.RTTThreshold || ph.Loss > m.params.LossThreshold
	return trigger && bh.Status != StatusDown
}

// Failover switches the active link to the backup, used by the
// host's manual-failover surface. A no-op returning false when the
// backup is already active: no notification, no timestamp change.
func (m *Manager) Failover() bool {
	m.mu.Lock()
	primaryName, backupName := m.order[0], m.order[1]
	already := m.active == backupName
	m.mu.Unlock()
	if already {
		return false
	}
	m.transition(primaryName, backupName)
	return true
}

// Failback returns the active link to the primary. A no-op returning
// false when the primary is already active.
func (m *Manager) Failback() bool {
	m.mu.Lock()
	primaryName, backupName := m.order[0], m.order[1]
	already := m.active == primaryName
	m.mu.Unlock()
	if already {
		return false
	}
	m.transition(backupName, primaryName)
	return true
}

// ActiveLink returns the name of the currently active link.
func (m *Manager) ActiveLink() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Send writes payload out the currently active link's socket.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	l := m.links[m.active]
	m.mu.Unlock()
	_, err := l.conn.WriteToUDP(payload, l.remote)
	return err
}

// Health returns a snapshot of a named link's state.
func (m *Manager) Health(name string) (Health, bool) {
	m.mu.Lock()
	l, ok := m.links[name]
	m.mu.Unlock()
	if !ok {
		return Health{}, false
	}
	return l.snapshot(), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round(v float64) float64 {
	if v < 0 {
		return -round(-v)
	}
	return float64(int64(v + 0.5))
}
