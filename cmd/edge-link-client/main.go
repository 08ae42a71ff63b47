package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/KEGustafsson/signalk-edge-link-sub000/internal/edgelog"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/bonding"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/clientpipeline"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/config"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/congestion"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/corerrors"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/metricspublisher"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/monitoring"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to edge-link configuration file")
	flag.Parse()

	log := edgelog.Default("client")
	log.Success("signalk-edge-link client %s starting", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration error: %v", err)
		os.Exit(1)
	}

	errs := corerrors.New()
	ccParams := congestion.DefaultParams()
	ccParams.TargetRTTMs = cfg.CongestionControl.TargetRTTMs
	ccParams.NominalDeltaMs = cfg.CongestionControl.NominalDeltaMs
	ccParams.MinDeltaMs = cfg.CongestionControl.MinDeltaMs
	ccParams.MaxDeltaMs = cfg.CongestionControl.MaxDeltaMs
	cc := congestion.New(ccParams)
	if !cfg.CongestionControl.Enabled {
		cc.SetManualDeltaTimer(cfg.CongestionControl.NominalDeltaMs)
	}

	mp := metricspublisher.New(func(name string, value interface{}) {
		log.Debug("metric %s=%v", name, value)
	})

	var sender clientpipeline.Sender
	var mgr *bonding.Manager
	var pipeline *clientpipeline.Pipeline
	var plainConn *net.UDPConn

	if cfg.Bonding.Enabled {
		log.Info("bonding enabled: primary=%s:%d backup=%s:%d", cfg.Bonding.Primary.Address, cfg.Bonding.Primary.Port, cfg.Bonding.Backup.Address, cfg.Bonding.Backup.Port)
		mgr, err = bonding.New(
			bonding.LinkConfig{Name: "primary", Address: cfg.Bonding.Primary.Address, Port: cfg.Bonding.Primary.Port, Interface: cfg.Bonding.Primary.Interface},
			bonding.LinkConfig{Name: "backup", Address: cfg.Bonding.Backup.Address, Port: cfg.Bonding.Backup.Port, Interface: cfg.Bonding.Backup.Interface},
			bonding.FailoverParams{
				RTTThreshold:        time.Duration(cfg.Bonding.Failover.RTTThresholdMs) * time.Millisecond,
				LossThreshold:       cfg.Bonding.Failover.LossThreshold,
				HealthCheckInterval: cfg.Bonding.Failover.HealthCheckInterval,
				FailbackDelay:       cfg.Bonding.Failover.FailbackDelay,
				HeartbeatTimeout:    cfg.Bonding.Failover.HeartbeatTimeout,
				RTTHysteresis:       0.2,
				LossHysteresis:      0.05,
				EMAAlpha:            0.3,
			},
			log.With("bonding"),
			// onControlPacket forwards every non-heartbeat datagram (ACKs,
			// NAKs) from either link to the client pipeline's ingress.
			// pipeline is filled in below, after construction; by the time
			// any datagram actually arrives the closure sees it set.
			func(_ string, b []byte) {
				if pipeline != nil {
					pipeline.HandleIncoming(b)
				}
			},
			func(notification deltamodel.Delta) {
				log.Warn("bonding notification: %+v", notification)
			},
		)
		if err != nil {
			log.Error("bonding setup: %v", err)
			os.Exit(1)
		}
		mgr.SetFailoverCallback(func(from, to string) {
			log.Warn("link failover: %s -> %s", from, to)
		})
		mgr.Start()
		defer func() {
			if err := mgr.Stop(); err != nil {
				log.Warn("bonding stop: %v", err)
			}
		}()
		sender = mgr
	} else {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.UDPAddress, strconv.Itoa(cfg.UDPPort)))
		if err != nil {
			log.Error("resolve: %v", err)
			os.Exit(1)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			log.Error("dial: %v", err)
			os.Exit(1)
		}
		defer conn.Close()
		plainConn = conn
		sender = clientpipeline.NewUDPSender(conn, addr)
	}

	pipeline = clientpipeline.New(sender, []byte(cfg.SecretKey), clientpipeline.Params{
		UsePathDictionary:   cfg.UsePathDictionary,
		UseMsgpack:          cfg.UseMsgpack,
		RetransmitQueueCap:  cfg.Reliability.RetransmitQueueCap,
		MaxRetransmits:      cfg.Reliability.MaxRetransmits,
		MinRetransmitAge:    cfg.Reliability.MinRetransmitAgeMs,
		MaxRetransmitAge:    cfg.Reliability.MaxRetransmitAgeMs,
		RetransmitAgeRTTMul: cfg.Reliability.RetransmitAgeRTTMul,
		IdleThreshold:       cfg.Reliability.IdleThresholdMs,
		ForceDrainThreshold: cfg.Reliability.ForceDrainMs,
		MaxSendsPerSecond:   cfg.Reliability.MaxSendsPerSecond,
	}, log, errs, cc, mp)

	// In the non-bonded case the pipeline's own socket carries ACK/NAK
	// replies back from the server; read them into the same ingress the
	// bonded path uses via onControlPacket.
	if plainConn != nil {
		go readAckNakReplies(plainConn, pipeline, log)
	}

	hello, _ := json.Marshal(map[string]interface{}{
		"client":  "signalk-edge-link",
		"version": version,
	})
	if err := pipeline.SendHello(hello); err != nil {
		log.Warn("hello: %v", err)
	}

	log.Success("pipeline ready, reading deltas from stdin (newline-delimited JSON)")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	alerts := monitoring.NewAlertManager(time.Minute)
	for metric, t := range cfg.AlertThresholds {
		alerts.SetThresholds(metric, monitoring.Thresholds{Warning: t.Warning, Critical: t.Critical})
	}

	tickerStop := make(chan struct{})
	go runMaintenanceTicker(pipeline, cc, mp, alerts, log, tickerStop)

	done := make(chan struct{})
	go readStdinDeltas(pipeline, log, done)

	select {
	case sig := <-sigChan:
		log.Warn("received signal: %v, shutting down", sig)
	case <-done:
		log.Info("input closed, shutting down")
	}

	close(tickerStop)
	pipeline.Stop()
	time.Sleep(100 * time.Millisecond)
	log.Success("client stopped")
}

// runMaintenanceTicker drives the client pipeline's once-a-second
// housekeeping: congestion re-adjustment, retransmit-queue age
// pruning, a bandwidth sample, retransmit-rate tracking, alert
// checks, and a metrics snapshot. The batching loop that would apply
// congestion's returned deltaTimer to its own cadence lives in the
// host telemetry framework, out of scope here; this ticker only keeps
// the pipeline's own bookkeeping current.
func runMaintenanceTicker(pipeline *clientpipeline.Pipeline, cc *congestion.Controller, mp *metricspublisher.Publisher, alerts *monitoring.AlertManager, log *edgelog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	bandwidth := metricspublisher.NewBandwidthHistory(60)
	retransmits := monitoring.NewRetransmitTracker(60)
	var prevWire int64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rtt, haveRTT := pipeline.RTT()
			jitter, haveJitter := pipeline.Jitter()
			newDeltaMs := cc.Adjust()
			log.Debug("congestion adjust: deltaTimer=%.0fms rtt=%v", newDeltaMs, rtt)
			pipeline.PruneRetransmitQueue(rtt)

			sample := metricspublisher.Sample{}
			if haveRTT {
				sample.RTTMs = float64(rtt.Milliseconds())
				sample.HasRTT = true
			}
			if haveJitter {
				sample.JitterMs = float64(jitter.Milliseconds())
				sample.HasJitter = true
			}
			sent, retransmitted := pipeline.SendCounters()
			retransmits.Snapshot(uint64(sent), uint64(retransmitted))
			retransmitRate, _ := retransmits.Rate()
			mp.Publish(sample, retransmitRate)

			loss := pipeline.SlidingLossRatio()
			if r := alerts.Check("packetLoss", loss); r.Notify && r.Level != monitoring.AlertNone {
				log.Warn("packet loss alert (%v): %.1f%%", r.Level, loss*100)
			}
			if haveRTT {
				if r := alerts.Check("rtt", float64(rtt.Milliseconds())); r.Notify && r.Level != monitoring.AlertNone {
					log.Warn("rtt alert (%v): %v", r.Level, rtt)
				}
			}

			_, wireBytes := pipeline.BytesOut()
			bandwidth.Record(metricspublisher.BandwidthPoint{
				Timestamp:        time.Now(),
				RateOut:          float64(wireBytes - prevWire),
				CompressionRatio: pipeline.CompressionRatio(),
			})
			prevWire = wireBytes

			// keepalive: hold the NAT mapping open while no DATA is
			// flowing.
			if time.Since(pipeline.LastPacketTime()) > 10*time.Second {
				if err := pipeline.SendHeartbeat(); err != nil {
					log.Debug("keepalive: %v", err)
				}
			}
		}
	}
}

// readAckNakReplies pumps inbound datagrams on the client's own UDP
// socket into the pipeline's ACK/NAK ingress — the non-bonded
// counterpart to bonding.Manager's receiveLoop/onControlPacket wiring.
func readAckNakReplies(conn *net.UDPConn, pipeline *clientpipeline.Pipeline, log *edgelog.Logger) {
	buf := make([]byte, 65535)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Debug("ack/nak read loop exiting: %v", err)
			return
		}
		data := append([]byte(nil), buf[:n]...)
		pipeline.HandleIncoming(data)
	}
}

// readStdinDeltas feeds deltas supplied by an external telemetry
// source (one JSON-encoded deltamodel.Delta per line) into the send
// pipeline. A real host integration replaces this with its own
// producer; this is just the process's outer edge.
func readStdinDeltas(pipeline *clientpipeline.Pipeline, log *edgelog.Logger, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var delta deltamodel.Delta
		if err := json.Unmarshal(line, &delta); err != nil {
			log.Warn("skipping malformed delta line: %v", err)
			continue
		}
		if err := pipeline.SendDelta([]deltamodel.Delta{delta}); err != nil {
			log.Error("sendDelta: %v", err)
		}
	}
}
