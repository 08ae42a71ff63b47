// Package serverpipeline implements the server receive path
// (classify, sequence-track, decrypt, decompress, decode, deliver)
// and the cumulative-ACK / selective-NAK scheduler.
package serverpipeline

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KEGustafsson/signalk-edge-link-sub000/internal/edgelog"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/aead"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/compressor"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/corerrors"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/monitoring"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/pathdict"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/seqtracker"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/serialize"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/wire"
)

// MessageSink receives one decoded delta at a time, the seam to the
// host telemetry framework.
type MessageSink func(context string, delta deltamodel.Delta)

// PathObserver is notified of each decoded value's path along with
// that value's share of the payload's decompressed bytes, feeding the
// per-path analytics.
type PathObserver func(path string, bytes float64)

// Transport is the minimal send-back capability the scheduler needs;
// satisfied directly by *net.UDPConn.
type Transport interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Params configures the server pipeline's limits.
type Params struct {
	DecompressionBombCap int
	NakTimeout           time.Duration
	AckInterval          time.Duration
	AckResendInterval    time.Duration
}

// Pipeline is the server-side receive path plus ACK/NAK scheduler.
type Pipeline struct {
	mu      sync.Mutex
	stopped int32

	conn   Transport
	key    []byte
	params Params

	log  *edgelog.Logger
	errs *corerrors.Registry

	tracker *seqtracker.Tracker

	lastClient *net.UDPAddr

	dataPacketsReceived uint64
	duplicatePackets    uint64
	deltasReceived      uint64
	naksSent            uint64
	bytesIn             uint64

	// loss accounting: received counts against the sequence span covered
	// since the last resync; duplicates never count against receipts.
	lossBaseSeq      uint32
	haveLossBase     bool
	receivedInWindow uint64

	lastAckedSeq   uint32
	lastAckSentSeq uint32
	haveLastAck    bool
	lastAckSentAt  time.Time

	sink     MessageSink
	onPath   PathObserver
	heatmap  *monitoring.LossHeatmap
	stopTick chan struct{}
	wg       sync.WaitGroup
}

// New constructs a server Pipeline. conn is the listening UDP socket
// used both to receive packets and to send ACK/NAK/heartbeat-echo
// replies.
func New(conn Transport, key []byte, params Params, log *edgelog.Logger, errs *corerrors.Registry, sink MessageSink, onPath PathObserver) *Pipeline {
	p := &Pipeline{
		conn:     conn,
		key:      key,
		params:   params,
		log:      log,
		errs:     errs,
		sink:     sink,
		onPath:   onPath,
		stopTick: make(chan struct{}),
	}
	p.tracker = seqtracker.New(params.NakTimeout, p.onLossDetected)
	return p
}

// SetLossHeatmap attaches a heatmap that records every received DATA
// packet and every sequence reported lost. Call before traffic flows.
func (p *Pipeline) SetLossHeatmap(h *monitoring.LossHeatmap) {
	p.heatmap = h
}

func (p *Pipeline) isStopped() bool { return atomic.LoadInt32(&p.stopped) != 0 }

// Stop marks the pipeline stopped, cancels the ACK ticker, and resets
// tracker state. Subsequent ReceivePacket calls become a no-op.
func (p *Pipeline) Stop() {
	if atomic.CompareAndSwapInt32(&p.stopped, 0, 1) {
		close(p.stopTick)
	}
	p.wg.Wait()
	p.tracker.Reset()
}

// StartAckScheduler runs the periodic cumulative-ACK timer in the
// background.
func (p *Pipeline) StartAckScheduler() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.params.AckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopTick:
				return
			case <-ticker.C:
				p.ackTick()
			}
		}
	}()
}

func (p *Pipeline) ackTick() {
	p.mu.Lock()
	client := p.lastClient
	received := atomic.LoadUint64(&p.dataPacketsReceived)
	if client == nil || received == 0 {
		p.mu.Unlock()
		return
	}
	ackSeq := p.tracker.ExpectedSeqMinusOne()
	sameAsLast := p.haveLastAck && p.lastAckSentSeq == ackSeq
	elapsed := time.Since(p.lastAckSentAt)
	p.mu.Unlock()

	if sameAsLast && elapsed < p.params.AckResendInterval {
		return
	}

	packet := wire.Build(wire.TypeAck, wire.EncodeAck(ackSeq), 0, 0)
	if _, err := p.conn.WriteToUDP(packet, client); err != nil {
		p.errs.Record(corerrors.UDPSend, fmt.Sprintf("ack send: %v", err))
		return
	}

	p.mu.Lock()
	p.lastAckSentSeq = ackSeq
	p.haveLastAck = true
	p.lastAckSentAt = time.Now()
	p.mu.Unlock()
}

// onLossDetected is the sequence tracker's callback: it sends a NAK
// immediately for the missing sequences.
func (p *Pipeline) onLossDetected(seqs []uint32) {
	p.mu.Lock()
	client := p.lastClient
	p.mu.Unlock()
	if client == nil {
		return
	}
	if p.heatmap != nil {
		p.heatmap.RecordBatch(len(seqs), len(seqs))
	}
	packet := wire.Build(wire.TypeNak, wire.EncodeNak(seqs), 0, 0)
	if _, err := p.conn.WriteToUDP(packet, client); err != nil {
		p.errs.Record(corerrors.UDPSend, fmt.Sprintf("nak send: %v", err))
		return
	}
	atomic.AddUint64(&p.naksSent, 1)
}

// ReceivePacket runs the full receive pipeline for one inbound
// datagram from peer.
func (p *Pipeline) ReceivePacket(data []byte, peer *net.UDPAddr) {
	if p.isStopped() {
		return
	}

	if wire.IsHeartbeatProbe(data) {
		if _, err := p.conn.WriteToUDP(data, peer); err != nil {
			p.errs.Record(corerrors.UDPSend, fmt.Sprintf("heartbeat echo: %v", err))
		}
		return
	}

	atomic.AddUint64(&p.bytesIn, uint64(len(data)))

	if !wire.IsV2Packet(data) {
		return
	}

	pkt, err := wire.Parse(data)
	if err != nil {
		p.errs.Record(corerrors.General, fmt.Sprintf("parse: %v", err))
		return
	}

	switch pkt.Header.Type {
	case wire.TypeHeartbeat:
		return
	case wire.TypeHello:
		var hello map[string]interface{}
		if err := json.Unmarshal(pkt.Payload, &hello); err != nil {
			p.log.Info("hello payload not JSON: %v", err)
		} else {
			p.log.Info("hello from %s: %v", peer, hello)
		}
		return
	case wire.TypeData:
		// falls through to the reliability + decode pipeline below
	default:
		return
	}

	p.mu.Lock()
	p.lastClient = peer
	p.mu.Unlock()

	result := p.tracker.ProcessSequence(pkt.Header.Sequence)
	if result.Duplicate {
		atomic.AddUint64(&p.duplicatePackets, 1)
		return
	}
	// result.Recovered (a NAK'd retransmit arriving after its gap was
	// reported) falls through here same as InOrder: it must still be
	// decoded and delivered, not dropped as a duplicate.

	p.mu.Lock()
	if result.Resynced || !p.haveLossBase {
		p.lossBaseSeq = pkt.Header.Sequence
		p.haveLossBase = true
		p.receivedInWindow = 0
	}
	p.receivedInWindow++
	p.mu.Unlock()

	atomic.AddUint64(&p.dataPacketsReceived, 1)
	if p.heatmap != nil {
		p.heatmap.Record(false)
	}

	plaintext, err := aead.Open(p.key, pkt.Payload)
	if err != nil {
		p.errs.Record(corerrors.Encryption, fmt.Sprintf("decrypt: %v", err))
		return
	}

	decompressed, err := compressor.Decompress(plaintext, p.params.DecompressionBombCap)
	if err != nil {
		p.errs.Record(corerrors.Compression, fmt.Sprintf("decompress: %v", err))
		return
	}

	useMsgpack := pkt.Header.Flags.Has(wire.FlagMessagepack)
	deltas, err := serialize.Select(useMsgpack).UnmarshalBatch(decompressed)
	if err != nil {
		deltas, err = serialize.Select(!useMsgpack).UnmarshalBatch(decompressed)
		if err != nil {
			p.errs.Record(corerrors.General, fmt.Sprintf("deserialize: %v", err))
			return
		}
	}
	if deltas == nil {
		p.errs.Record(corerrors.General, "deserialize: payload is not a batch of deltas")
		return
	}

	// Iterate entries in wire order, skipping nulls: a sparse array
	// slot is not an error, just nothing to deliver for that entry.
	// The decompressed payload size is attributed evenly across the
	// batch's values for the per-path observer.
	totalValues := 0
	for _, dp := range deltas {
		if dp == nil {
			continue
		}
		for _, u := range dp.Updates {
			totalValues += len(u.Values)
		}
	}
	perValueBytes := 0.0
	if totalValues > 0 {
		perValueBytes = float64(len(decompressed)) / float64(totalValues)
	}
	for _, dp := range deltas {
		if dp == nil {
			continue
		}
		decoded := pathdict.DecodeDelta(*dp)
		for _, u := range decoded.Updates {
			for _, v := range u.Values {
				if p.onPath != nil {
					p.onPath(pathString(v.Path), perValueBytes)
				}
			}
		}
		if p.sink != nil {
			p.sink(decoded.Context, decoded)
		}
		atomic.AddUint64(&p.deltasReceived, 1)
	}
}

func pathString(k deltamodel.PathKey) string {
	if k.IsID() {
		return fmt.Sprintf("id:%d", k.IDVal())
	}
	return k.StringVal()
}

// Stats is the host-visible set of receive counters.
type Stats struct {
	DataPacketsReceived uint64
	DuplicatePackets    uint64
	DeltasReceived      uint64
	NaksSent            uint64
	BytesIn             uint64
}

// Stats returns a snapshot of the receive counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		DataPacketsReceived: atomic.LoadUint64(&p.dataPacketsReceived),
		DuplicatePackets:    atomic.LoadUint64(&p.duplicatePackets),
		DeltasReceived:      atomic.LoadUint64(&p.deltasReceived),
		NaksSent:            atomic.LoadUint64(&p.naksSent),
		BytesIn:             atomic.LoadUint64(&p.bytesIn),
	}
}

// LossEstimate reports the fraction of the sequence span since the
// last resync that never arrived, duplicates excluded. Zero until any
// DATA has been processed.
func (p *Pipeline) LossEstimate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveLossBase || p.receivedInWindow == 0 {
		return 0
	}
	span := uint64(p.tracker.ExpectedSeqMinusOne()-p.lossBaseSeq) + 1
	if span == 0 || p.receivedInWindow >= span {
		return 0
	}
	return 1 - float64(p.receivedInWindow)/float64(span)
}
