package workers

import (
	"log/slog"
	"os"
	"presence-lab/observability"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/process"
	"github.com/stretchr/testify/require"
)

type fixedCount int

func (c fixedCount) Len() int { return int(c) }

func TestHeartbeat_Beat_Records_Players_And_Process_Stats(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	monitoring := observability.NewMonitoringManager(prometheus.NewRegistry())
	p, err := process.NewProcess(int32(os.Getpid()))
	req.NoError(err)

	NewHeartbeatWorker(log, fixedCount(3), monitoring, time.Second).Beat(p)

	stats := monitoring.GetLatest()
	req.Equal(3, stats.Players)
	req.NotZero(stats.RSSBytes)
}
