package workers

import (
	"context"
	"log/slog"
	"os"
	"presence-lab/observability"
	"time"

	"github.com/shirou/gopsutil/process"
)

// PlayerCounter is the part of the registry the heartbeat reads.
type PlayerCounter interface {
	Len() int
}

// HeartbeatWorker refreshes the process stats and the live player gauge.
type HeartbeatWorker struct {
	log        *slog.Logger
	players    PlayerCounter
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewHeartbeatWorker(
	log *slog.Logger,
	players PlayerCounter,
	monitoring *observability.MonitoringManager,
	interval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:        log.With("worker", "heartbeat"),
		players:    players,
		monitoring: monitoring,
		interval:   interval,
	}
}

// Run collects the stats (CPU, RAM, players) every interval.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	w.Beat(p)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Beat(p)
		}
	}
}

// Beat records one sample. A failed stat collection keeps the player gauge fresh.
func (w *HeartbeatWorker) Beat(p *process.Process) {
	w.monitoring.SetPlayers(w.players.Len())

	rss, cpu, err := getSelfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "err", err)
		return
	}
	w.monitoring.SetProcessStats(rss, cpu)
}

// getSelfStats retrieves memory and CPU usage for the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
