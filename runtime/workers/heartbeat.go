package workers

import (
	"chat-relay/domain/chat"
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type roomStats interface {
	Rooms() []chat.RoomID
	ConnectionsFor(room chat.RoomID) int
}

type presenceStats interface {
	Count() int
}

// HeartbeatWorker periodically logs the process footprint and the connection counts,
// and exports the former as gauges.
type HeartbeatWorker struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	rooms    roomStats
	presence presenceStats
	interval time.Duration
}

func NewHeartbeatWorker(
	log *slog.Logger,
	metrics *observability.Metrics,
	rooms roomStats,
	presence presenceStats,
	interval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, metrics: metrics, rooms: rooms, presence: presence, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.beat(p)
		}
	}
}

func (w *HeartbeatWorker) beat(p *process.Process) {
	rooms := w.rooms.Rooms()
	roomConnections := 0
	for _, room := range rooms {
		roomConnections += w.rooms.ConnectionsFor(room)
	}

	rss, cpu, status, err := selfStats(p)
	if err != nil {
		w.log.Warn("Failed to collect self stats", "error", err)
		w.log.Info("Heartbeat", "rooms", len(rooms), "room_connections", roomConnections,
			"notification_connections", w.presence.Count())
		return
	}
	w.metrics.ProcessStats(rss, cpu)
	w.log.Info("Heartbeat",
		"rooms", len(rooms),
		"room_connections", roomConnections,
		"notification_connections", w.presence.Count(),
		"rss_bytes", rss,
		"cpu_percent", cpu,
		"status", status,
	)
}

// selfStats retrieves memory, CPU and OS status for the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
