package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KEGustafsson/signalk-edge-link-sub000/internal/edgelog"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/config"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/corerrors"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/metricspublisher"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/monitoring"
	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/serverpipeline"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to edge-link configuration file")
	flag.Parse()

	log := edgelog.Default("server")
	log.Success("signalk-edge-link server %s starting", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration error: %v", err)
		os.Exit(1)
	}
	log.Info("listening on %s:%d (msgpack=%v pathDict=%v)", cfg.UDPAddress, cfg.UDPPort, cfg.UseMsgpack, cfg.UsePathDictionary)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.UDPAddress), Port: cfg.UDPPort})
	if err != nil {
		log.Error("listen: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	errs := corerrors.New()
	analytics := metricspublisher.NewPathAnalytics(512)
	heatmap := monitoring.NewLossHeatmap(10*time.Second, 60)
	latency := monitoring.NewPathLatency(256, 100)
	alerts := newAlertManager(cfg)

	// The sink samples end-to-end delivery latency per path from each
	// update's origin timestamp before handing the delta on.
	sink := func(context string, d deltamodel.Delta) {
		log.Debug("delta received context=%q updates=%d", context, len(d.Updates))
		now := time.Now()
		for _, u := range d.Updates {
			ts, err := time.Parse(time.RFC3339, u.Timestamp)
			if err != nil {
				continue
			}
			ageMs := float64(now.Sub(ts).Milliseconds())
			if ageMs < 0 {
				continue
			}
			for _, v := range u.Values {
				if !v.Path.IsID() {
					latency.Record(v.Path.StringVal(), ageMs)
				}
			}
		}
	}

	pipeline := serverpipeline.New(conn, []byte(cfg.SecretKey), serverpipeline.Params{
		DecompressionBombCap: 4 << 20,
		NakTimeout:           cfg.Reliability.NakTimeoutMs,
		AckInterval:          cfg.Reliability.AckIntervalMs,
		AckResendInterval:    cfg.Reliability.AckResendIntervalMs,
	}, log, errs, sink, func(path string, bytes float64) {
		analytics.Record(path, bytes)
	})
	pipeline.SetLossHeatmap(heatmap)

	pipeline.StartAckScheduler()
	log.Success("ACK/NAK scheduler running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	tickerStop := make(chan struct{})
	go runMonitoringTicker(pipeline, heatmap, alerts, log, tickerStop)

	go receiveLoop(conn, pipeline, log)

	sig := <-sigChan
	log.Warn("received signal: %v, shutting down", sig)
	close(tickerStop)
	pipeline.Stop()
	time.Sleep(100 * time.Millisecond)
	log.Success("server stopped")
}

func newAlertManager(cfg *config.Config) *monitoring.AlertManager {
	am := monitoring.NewAlertManager(time.Minute)
	for metric, t := range cfg.AlertThresholds {
		am.SetThresholds(metric, monitoring.Thresholds{Warning: t.Warning, Critical: t.Critical})
	}
	return am
}

// runMonitoringTicker periodically folds the pipeline's loss estimate
// into the alert manager and logs a warning on every tick while the
// heatmap trend is worsening.
func runMonitoringTicker(pipeline *serverpipeline.Pipeline, heatmap *monitoring.LossHeatmap, alerts *monitoring.AlertManager, log *edgelog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			loss := pipeline.LossEstimate()
			if r := alerts.Check("packetLoss", loss); r.Notify && r.Level != monitoring.AlertNone {
				log.Warn("packet loss alert (%v): %.1f%%", r.Level, loss*100)
			}
			summary := heatmap.Summarize()
			if summary.Trend == monitoring.TrendWorsening {
				log.Warn("loss trend worsening: overall=%.2f%% worst bucket=%.2f%%", summary.OverallLossRate*100, summary.MaxBucketRate*100)
			}
		}
	}
}

func receiveLoop(conn *net.UDPConn, pipeline *serverpipeline.Pipeline, log *edgelog.Logger) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if _, ok := err.(net.Error); ok {
				continue
			}
			log.Warn("read error: %v", err)
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		pipeline.ReceivePacket(payload, addr)
	}
}
