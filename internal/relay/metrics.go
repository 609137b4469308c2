package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	framesTotal    *prometheus.CounterVec
	updatesStored  prometheus.Counter
	updatesDupes   prometheus.Counter
	rejectedTotal  *prometheus.CounterVec
	replayedFrames prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "codesync_relay_connections",
			Help: "Number of open session connections",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "codesync_relay_rooms",
			Help: "Number of workspaces with at least one member",
		}),
		framesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codesync_relay_frames_total",
			Help: "Frames received from sessions",
		}, []string{"type"}),
		updatesStored: f.NewCounter(prometheus.CounterOpts{
			Name: "codesync_relay_updates_stored_total",
			Help: "Updates appended to a workspace log",
		}),
		updatesDupes: f.NewCounter(prometheus.CounterOpts{
			Name: "codesync_relay_updates_duplicate_total",
			Help: "Updates received that were already in the log",
		}),
		rejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codesync_relay_rejected_total",
			Help: "Connections or frames rejected",
		}, []string{"reason"}),
		replayedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "codesync_relay_replayed_updates_total",
			Help: "Updates replayed to joining sessions",
		}),
	}
}
