// Package clientpipeline implements the client send path and ACK/NAK
// ingress: the SendDelta pipeline (path-encode, serialize, compress,
// encrypt, frame, transmit, record, batch-model update) plus the
// reliability bookkeeping driven by inbound ACK/NAK datagrams.
package clientpipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/KEGustafsson/signalk-edge-link-sub000/internal/edgelog"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/aead"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/compressor"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/congestion"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/corerrors"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/metricspublisher"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/pathdict"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/retransmit"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/serialize"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/wire"
)

const (
	defaultMTUSafetyBytes    = 1400
	defaultMinDeltasPerBatch = 1
	rttWindowCap             = 50
	lossWindowCap            = 50
	sendRetryBudget          = 3
	defaultPathAnalyticsCap  = 512
)

// Sender is the minimal socket abstraction the pipeline sends
// through, satisfied by the NewUDPSender adapter over a *net.UDPConn
// or by a *bonding.Manager when link bonding is active, so this
// package never needs a back-reference into bonding.
type Sender interface {
	Send(payload []byte) error
}

// udpSender adapts a plain *net.UDPConn to Sender for the
// non-bonded case.
type udpSender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (u *udpSender) Send(payload []byte) error {
	if u.conn.RemoteAddr() != nil {
		// a connected socket rejects WriteToUDP
		_, err := u.conn.Write(payload)
		return err
	}
	_, err := u.conn.WriteToUDP(payload, u.addr)
	return err
}

// NewUDPSender wraps a connected UDP socket as a Sender.
func NewUDPSender(conn *net.UDPConn, addr *net.UDPAddr) Sender {
	return &udpSender{conn: conn, addr: addr}
}

// Params configures reliability bookkeeping independent of the
// underlying transport.
type Params struct {
	UsePathDictionary   bool
	UseMsgpack          bool
	RetransmitQueueCap  int
	MaxRetransmits      int
	MinRetransmitAge    time.Duration
	MaxRetransmitAge    time.Duration
	RetransmitAgeRTTMul float64
	IdleThreshold       time.Duration
	ForceDrainThreshold time.Duration
	MTUSafetyBytes      int
	MinDeltasPerBatch   int

	// MaxSendsPerSecond caps the outbound datagram rate, acting as a
	// backpressure reaper when an upstream producer outruns what the
	// link can usefully carry. Zero disables the cap.
	MaxSendsPerSecond float64
}

// Pipeline is the client-side send path plus ACK/NAK ingress.
type Pipeline struct {
	id string

	mu      sync.Mutex
	stopped int32

	sender Sender
	key    []byte
	params Params

	log        *edgelog.Logger
	errs       *corerrors.Registry
	congestion *congestion.Controller
	metrics    *metricspublisher.Publisher
	limiter    *rate.Limiter

	builder *wire.Builder

	retransmitQ *retransmit.Queue

	rttWindow  []float64
	haveJitter bool
	jitter     float64
	lastAcked  uint32
	haveAcked  bool
	lastAckAt  time.Time

	lossWindow []bool

	avgBytesPerDelta  float64
	haveAvgBytes      bool
	maxDeltasPerBatch int

	analytics *metricspublisher.PathAnalytics

	lastPacketTime time.Time
	oversizedCount int64

	bytesOutRaw  int64
	bytesOutWire int64

	packetsSent     int64
	retransmitsSent int64
}

// New constructs a client Pipeline. sender is whatever currently owns
// the active socket (a plain UDP connection, or a bonding manager).
func New(sender Sender, key []byte, params Params, log *edgelog.Logger, errs *corerrors.Registry, cc *congestion.Controller, mp *metricspublisher.Publisher) *Pipeline {
	if params.MTUSafetyBytes == 0 {
		params.MTUSafetyBytes = defaultMTUSafetyBytes
	}
	if params.MinDeltasPerBatch == 0 {
		params.MinDeltasPerBatch = defaultMinDeltasPerBatch
	}
	p := &Pipeline{
		id:                xid.New().String(),
		sender:            sender,
		key:               key,
		params:            params,
		log:               log,
		errs:              errs,
		congestion:        cc,
		metrics:           mp,
		builder:           wire.NewBuilder(),
		retransmitQ:       retransmit.New(params.RetransmitQueueCap, params.MaxRetransmits),
		analytics:         metricspublisher.NewPathAnalytics(defaultPathAnalyticsCap),
		maxDeltasPerBatch: 16,
	}
	if params.MaxSendsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(params.MaxSendsPerSecond), 1)
	}
	log.Debug("client pipeline %s constructed", p.id)
	return p
}

// ID returns this pipeline instance's unique identifier, used to tell
// apart multiple pipelines (e.g. bonded links) in shared log output.
func (p *Pipeline) ID() string { return p.id }

// SetSender swaps the active sender, used when the bonding manager
// fails over to a different link.
func (p *Pipeline) SetSender(s Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = s
}

// currentSender reads the active sender at the moment of dispatch,
// so a failover takes effect before the next send completes.
func (p *Pipeline) currentSender() Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sender
}

// Stop marks the pipeline stopped; subsequent SendDelta calls become
// a silent no-op.
func (p *Pipeline) Stop() {
	atomic.StoreInt32(&p.stopped, 1)
	p.retransmitQ.Clear()
}

func (p *Pipeline) isStopped() bool { return atomic.LoadInt32(&p.stopped) != 0 }

// SendDelta runs the full send pipeline for one or more deltas.
func (p *Pipeline) SendDelta(deltas []deltamodel.Delta) error {
	if p.isStopped() {
		p.log.Debug("sendDelta called after stop, ignoring")
		return nil
	}

	encoded := make([]deltamodel.Delta, len(deltas))
	for i, d := range deltas {
		if p.params.UsePathDictionary {
			encoded[i] = pathdict.EncodeDelta(d)
		} else {
			encoded[i] = deltamodel.Normalize(d)
		}
	}

	var flags wire.Flags
	if p.params.UsePathDictionary {
		flags |= wire.FlagPathDictionary
	}

	codec := serialize.Select(p.params.UseMsgpack)
	if p.params.UseMsgpack {
		flags |= wire.FlagMessagepack
	}

	serialized, err := codec.MarshalBatch(encoded)
	if err != nil {
		p.errs.Record(corerrors.General, fmt.Sprintf("serialize: %v", err))
		return fmt.Errorf("clientpipeline: serialize: %w", err)
	}
	p.recordByteCounters(encoded, len(serialized))

	mode := compressor.ModeGeneric
	if !p.params.UseMsgpack {
		mode = compressor.ModeText
	}
	compressed, err := compressor.Compress(serialized, mode, len(serialized))
	if err != nil {
		p.errs.Record(corerrors.Compression, fmt.Sprintf("compress: %v", err))
		return fmt.Errorf("clientpipeline: compress: %w", err)
	}
	flags |= wire.FlagCompressed

	sealed, err := aead.Seal(p.key, compressed)
	if err != nil {
		p.errs.Record(corerrors.Encryption, fmt.Sprintf("encrypt: %v", err))
		return fmt.Errorf("clientpipeline: encrypt: %w", err)
	}
	flags |= wire.FlagEncrypted

	packet, seq := p.builder.BuildData(sealed, flags)

	if len(packet) > p.params.MTUSafetyBytes {
		atomic.AddInt64(&p.oversizedCount, 1)
		p.log.Warn("oversized packet: %d bytes exceeds MTU safety threshold %d", len(packet), p.params.MTUSafetyBytes)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(context.Background()); err != nil {
			p.log.Warn("rate limiter wait: %v", err)
		}
	}

	if err := p.transmitWithRetry(packet); err != nil {
		p.errs.Record(corerrors.UDPSend, fmt.Sprintf("send: %v", err))
		return fmt.Errorf("clientpipeline: send: %w", err)
	}
	atomic.AddInt64(&p.bytesOutWire, int64(len(packet)))
	atomic.AddInt64(&p.packetsSent, 1)

	now := time.Now()
	p.mu.Lock()
	p.retransmitQ.Add(seq, packet, now)
	p.updateBatchModelLocked(len(encoded), len(serialized))
	p.lossWindow = appendBoundedBool(p.lossWindow, false, lossWindowCap)
	p.lastPacketTime = now
	p.mu.Unlock()

	return nil
}

func (p *Pipeline) recordByteCounters(deltas []deltamodel.Delta, totalBytes int) {
	atomic.AddInt64(&p.bytesOutRaw, int64(totalBytes))

	totalUpdates := 0
	for _, d := range deltas {
		totalUpdates += len(d.Updates)
	}
	if totalUpdates == 0 {
		return
	}
	perUpdate := float64(totalBytes) / float64(totalUpdates)

	for _, d := range deltas {
		for _, u := range d.Updates {
			for _, v := range u.Values {
				p.analytics.Record(pathKeyString(v.Path), perUpdate/float64(max(1, len(u.Values))))
			}
		}
	}
}

func pathKeyString(k deltamodel.PathKey) string {
	if k.IsID() {
		return fmt.Sprintf("id:%d", k.IDVal())
	}
	return k.StringVal()
}

// updateBatchModelLocked maintains the smart-batch model: an
// exponentially-smoothed average bytes per delta, driving
// maxDeltasPerBatch = floor(safePayload / avg).
func (p *Pipeline) updateBatchModelLocked(numDeltas, serializedBytes int) {
	if numDeltas == 0 {
		return
	}
	sample := float64(serializedBytes) / float64(numDeltas)
	const alpha = 0.2
	if !p.haveAvgBytes {
		p.avgBytesPerDelta = sample
		p.haveAvgBytes = true
	} else {
		p.avgBytesPerDelta = alpha*sample + (1-alpha)*p.avgBytesPerDelta
	}
	if p.avgBytesPerDelta <= 0 {
		return
	}
	computed := int(math.Floor(float64(p.params.MTUSafetyBytes) / p.avgBytesPerDelta))
	if computed < p.params.MinDeltasPerBatch {
		computed = p.params.MinDeltasPerBatch
	}
	p.maxDeltasPerBatch = computed
}

// MaxDeltasPerBatch returns the batching loop's current ceiling.
func (p *Pipeline) MaxDeltasPerBatch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxDeltasPerBatch
}

func (p *Pipeline) transmitWithRetry(packet []byte) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), sendRetryBudget)
	attempt := 0
	op := func() error {
		attempt++
		err := p.currentSender().Send(packet)
		if err == nil {
			return nil
		}
		if isRecoverableSendError(err) {
			p.errs.RecordUDPRetry()
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(b, context.Background()))
}

// isRecoverableSendError reports whether err looks like a transient
// EAGAIN/ENOBUFS-style condition worth retrying. net.Error's
// Timeout() classification stands in for "transient" without parsing
// platform-specific errno values.
func isRecoverableSendError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// HandleIncoming dispatches one inbound datagram on the send socket
// to the ACK or NAK handler. Non-v2 traffic is ignored.
func (p *Pipeline) HandleIncoming(data []byte) {
	if !wire.IsV2Packet(data) {
		return
	}
	pkt, err := wire.Parse(data)
	if err != nil {
		p.errs.Record(corerrors.General, fmt.Sprintf("parse ack/nak: %v", err))
		return
	}
	switch pkt.Header.Type {
	case wire.TypeAck:
		p.handleAck(pkt.Payload)
	case wire.TypeNak:
		p.handleNak(pkt.Payload)
	}
}

func (p *Pipeline) handleAck(payload []byte) {
	a, err := wire.DecodeAck(payload)
	if err != nil {
		p.errs.Record(corerrors.General, fmt.Sprintf("decode ack: %v", err))
		return
	}

	entry, ok := p.retransmitQ.Get(a)
	now := time.Now()

	p.mu.Lock()
	var rtt time.Duration
	if ok {
		rtt = now.Sub(entry.Original)
		p.rttWindow = appendBounded(p.rttWindow, float64(rtt.Milliseconds()), rttWindowCap)
		if len(p.rttWindow) >= 2 {
			p.jitter = populationStdDev(p.rttWindow)
			p.haveJitter = true
		}
	}
	prev := p.lastAcked
	hadPrev := p.haveAcked
	p.lastAcked = a
	p.haveAcked = true
	p.lastAckAt = now
	loss := slidingLossRatio(p.lossWindow)
	p.mu.Unlock()

	if !hadPrev {
		// No earlier ACK bounds the range: the first cumulative ACK
		// covers every queued sequence at or behind a.
		prev = a - (1<<31 - 1)
	}
	p.retransmitQ.AcknowledgeRange(prev, a)

	if ok && p.congestion != nil {
		p.congestion.UpdateMetrics(float64(rtt.Milliseconds()), loss)
	}
}

func (p *Pipeline) handleNak(payload []byte) {
	missing, err := wire.DecodeNak(payload)
	if err != nil {
		p.errs.Record(corerrors.General, fmt.Sprintf("decode nak: %v", err))
		return
	}
	now := time.Now()
	results := p.retransmitQ.Retransmit(missing, now)
	for _, r := range results {
		if err := p.currentSender().Send(r.Packet); err != nil {
			p.errs.Record(corerrors.UDPSend, fmt.Sprintf("retransmit seq %d: %v", r.Sequence, err))
			continue
		}
		atomic.AddInt64(&p.retransmitsSent, 1)
		p.mu.Lock()
		p.lossWindow = appendBoundedBool(p.lossWindow, true, lossWindowCap)
		p.mu.Unlock()
	}
}

// PruneRetransmitQueue applies the effective-max-age policy. It runs
// only when called from outside the pipeline (the client's once-a-second
// maintenance tick); SendDelta and the ACK handler do not call it.
func (p *Pipeline) PruneRetransmitQueue(currentRTT time.Duration) int {
	p.mu.Lock()
	lastAckAt := p.lastAckAt
	haveAcked := p.haveAcked
	p.mu.Unlock()

	maxAge := p.params.MaxRetransmitAge
	if computed := time.Duration(float64(currentRTT) * p.params.RetransmitAgeRTTMul); computed > p.params.MinRetransmitAge {
		if computed < maxAge {
			maxAge = computed
		}
	} else {
		maxAge = p.params.MinRetransmitAge
	}

	idleFor := time.Duration(0)
	if haveAcked {
		idleFor = time.Since(lastAckAt)
	}
	if idleFor >= p.params.IdleThreshold && maxAge > p.params.IdleThreshold {
		maxAge = p.params.IdleThreshold
	}
	if idleFor >= p.params.ForceDrainThreshold && p.retransmitQ.Size() > 0 {
		n := p.retransmitQ.Size()
		p.retransmitQ.Clear()
		return n
	}

	return p.retransmitQ.ExpireOld(maxAge, time.Now())
}

// Jitter returns the last computed population standard deviation of
// the RTT sample window, and whether at least two samples have been
// observed yet.
func (p *Pipeline) Jitter() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.jitter) * time.Millisecond, p.haveJitter
}

// RTT returns the most recent ACK-derived RTT sample, and whether any
// ACK has been observed yet. Used by the retransmit-queue pruning
// policy and by the host's periodic metrics snapshot.
func (p *Pipeline) RTT() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rttWindow) == 0 {
		return 0, false
	}
	return time.Duration(p.rttWindow[len(p.rttWindow)-1]) * time.Millisecond, true
}

// LastAcked returns the most recently acknowledged cumulative sequence
// and whether any ACK has been observed.
func (p *Pipeline) LastAcked() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAcked, p.haveAcked
}

// OversizedPacketCount returns the running count of frames that
// exceeded the MTU safety threshold.
func (p *Pipeline) OversizedPacketCount() int64 {
	return atomic.LoadInt64(&p.oversizedCount)
}

// RetransmitQueueSize returns the current retransmit queue depth.
func (p *Pipeline) RetransmitQueueSize() int {
	return p.retransmitQ.Size()
}

// LastPacketTime returns the timestamp of the most recent send.
func (p *Pipeline) LastPacketTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPacketTime
}

// PathAnalytics returns the bounded per-path accounting built up by
// SendDelta.
func (p *Pipeline) PathAnalytics() *metricspublisher.PathAnalytics {
	return p.analytics
}

// BytesOut returns the cumulative serialized (pre-compression) and
// on-wire (framed) byte counts.
func (p *Pipeline) BytesOut() (raw, wire int64) {
	return atomic.LoadInt64(&p.bytesOutRaw), atomic.LoadInt64(&p.bytesOutWire)
}

// CompressionRatio reports on-wire bytes divided by raw serialized
// bytes over the pipeline's lifetime; 1.0 until anything has been sent.
func (p *Pipeline) CompressionRatio() float64 {
	raw := atomic.LoadInt64(&p.bytesOutRaw)
	w := atomic.LoadInt64(&p.bytesOutWire)
	if raw == 0 {
		return 1
	}
	return float64(w) / float64(raw)
}

// SendCounters returns the cumulative DATA packets sent and
// retransmissions performed, the inputs to retransmit-rate tracking.
func (p *Pipeline) SendCounters() (sent, retransmitted int64) {
	return atomic.LoadInt64(&p.packetsSent), atomic.LoadInt64(&p.retransmitsSent)
}

// SlidingLossRatio reports the fraction of the bounded loss window
// occupied by retransmissions.
func (p *Pipeline) SlidingLossRatio() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slidingLossRatio(p.lossWindow)
}

// SendHello transmits a HELLO packet carrying payload (JSON metadata),
// announcing this client to the server. The sequence counter is not
// advanced: only DATA packets consume sequence numbers.
func (p *Pipeline) SendHello(payload []byte) error {
	if p.isStopped() {
		return nil
	}
	packet := wire.Build(wire.TypeHello, payload, 0, p.builder.Sequence())
	if err := p.currentSender().Send(packet); err != nil {
		p.errs.Record(corerrors.UDPSend, fmt.Sprintf("hello: %v", err))
		return fmt.Errorf("clientpipeline: hello: %w", err)
	}
	return nil
}

// SendHeartbeat transmits a HEARTBEAT packet, the periodic keepalive
// that holds NAT mappings open while no DATA is flowing.
func (p *Pipeline) SendHeartbeat() error {
	if p.isStopped() {
		return nil
	}
	packet := wire.Build(wire.TypeHeartbeat, nil, 0, p.builder.Sequence())
	if err := p.currentSender().Send(packet); err != nil {
		p.errs.Record(corerrors.UDPSend, fmt.Sprintf("heartbeat: %v", err))
		return fmt.Errorf("clientpipeline: heartbeat: %w", err)
	}
	return nil
}

func appendBounded(s []float64, v float64, cap int) []float64 {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

func appendBoundedBool(s []bool, v bool, cap int) []bool {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

func slidingLossRatio(window []bool) float64 {
	if len(window) == 0 {
		return 0
	}
	trues := 0
	for _, v := range window {
		if v {
			trues++
		}
	}
	return float64(trues) / float64(len(window))
}

func populationStdDev(samples []float64) float64 {
	n := float64(len(samples))
	var mean float64
	for _, v := range samples {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range samples {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	return math.Sqrt(variance)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
