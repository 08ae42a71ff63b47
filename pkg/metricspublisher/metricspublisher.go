// Package metricspublisher implements the bounded moving-average
// metrics publisher: rolling RTT/jitter/loss windows, a composite
// link-quality score, dedup-on-publish, and a per-link variant used
// when bonding is enabled. It also holds the bandwidth history ring
// and the bounded per-path analytics store.
package metricspublisher

import "sync"

const windowSize = 10

const (
	ceilLoss       = 1.0
	ceilRTTMs      = 1000.0
	ceilJitterMs   = 500.0
	ceilRetransmit = 0.1
)

// window is a bounded moving-average accumulator.
type window struct {
	samples []float64
	sum     float64
}

func (w *window) add(v float64) float64 {
	w.samples = append(w.samples, v)
	w.sum += v
	if len(w.samples) > windowSize {
		w.sum -= w.samples[0]
		w.samples = w.samples[1:]
	}
	return w.sum / float64(len(w.samples))
}

func (w *window) reset() {
	w.samples = nil
	w.sum = 0
}

// Sample is the set of optional inputs to Publish; a zero-value field
// that is not set at all is distinguished via the Has* flags.
type Sample struct {
	RTTMs          float64
	HasRTT         bool
	JitterMs       float64
	HasJitter      bool
	Loss           float64
	HasLoss        bool
	RetransmitRate float64
	HasRetransmit  bool
}

// Publisher maintains the three bounded windows and the dedup map. A
// Sink receives host-facing delta values; it is injected at
// construction so this package never imports the telemetry model
// directly into a transport concern.
type Sink func(name string, value interface{})

type Publisher struct {
	mu sync.Mutex

	rtt      window
	jitter   window
	loss     window
	lastSent map[string]interface{}

	sink Sink
}

// New constructs a Publisher that calls sink for every value it emits.
func New(sink Sink) *Publisher {
	return &Publisher{lastSent: make(map[string]interface{}), sink: sink}
}

// Publish appends the provided samples to their windows, computes
// linkQuality, and emits every named value through the sink — skipping
// (deduplicating) any value that is unchanged from the last emission.
func (p *Publisher) Publish(s Sample, retransmitRate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := make(map[string]interface{})

	var rttAvg, jitterAvg, lossAvg float64
	if s.HasRTT {
		rttAvg = p.rtt.add(s.RTTMs)
		values["rtt"] = rttAvg
	}
	if s.HasJitter {
		jitterAvg = p.jitter.add(s.JitterMs)
		values["jitter"] = jitterAvg
	}
	if s.HasLoss {
		lossAvg = p.loss.add(s.Loss)
		values["packetLoss"] = lossAvg
	}

	lossScore := score(lossAvg, ceilLoss)
	rttScore := score(rttAvg, ceilRTTMs)
	jitterScore := score(jitterAvg, ceilJitterMs)
	retransmitScore := score(retransmitRate, ceilRetransmit)
	quality := round(40*lossScore + 30*rttScore + 20*jitterScore + 10*retransmitScore)
	values["linkQuality"] = quality

	for name, v := range values {
		if last, ok := p.lastSent[name]; ok && last == v {
			continue
		}
		p.lastSent[name] = v
		if p.sink != nil {
			p.sink(name, v)
		}
	}
}

// PublishLink emits the fixed per-link key set
// (…links.<name>.{status,rtt,loss,quality}) without deduplication.
func (p *Publisher) PublishLink(name, status string, rttMs, loss float64, quality int) {
	if p.sink == nil {
		return
	}
	p.sink("links."+name+".status", status)
	p.sink("links."+name+".rtt", rttMs)
	p.sink("links."+name+".loss", loss)
	p.sink("links."+name+".quality", quality)
}

// Reset clears all windows and the dedup map.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtt.reset()
	p.jitter.reset()
	p.loss.reset()
	p.lastSent = make(map[string]interface{})
}

func score(observed, ceiling float64) float64 {
	v := 1 - observed/ceiling
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64) int {
	if v < 0 {
		return -int(-v + 0.5)
	}
	return int(v + 0.5)
}
