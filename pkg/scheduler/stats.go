package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/rcrowley/go-metrics"
)

// Stats are the scheduler counters, kept in their own registry so that several schedulers
// (one per test) do not share numbers.
type Stats struct {
	Registry    metrics.Registry
	queued      metrics.Counter
	running     metrics.Counter
	completed   metrics.Timer
	suspended   metrics.Counter
	mounts      metrics.Meter
	unmounts    metrics.Meter
	preemptions metrics.Counter
	unitErrors  metrics.Counter
}

func newStats() *Stats {
	s := &Stats{
		Registry:    metrics.NewRegistry(),
		queued:      metrics.NewCounter(),
		running:     metrics.NewCounter(),
		completed:   metrics.NewTimer(),
		suspended:   metrics.NewCounter(),
		mounts:      metrics.NewMeter(),
		unmounts:    metrics.NewMeter(),
		preemptions: metrics.NewCounter(),
		unitErrors:  metrics.NewCounter(),
	}

	_ = s.Registry.Register("units.queued", s.queued)
	_ = s.Registry.Register("units.running", s.running)
	_ = s.Registry.Register("units.completed", s.completed)
	_ = s.Registry.Register("units.suspended", s.suspended)
	_ = s.Registry.Register("units.errors", s.unitErrors)
	_ = s.Registry.Register("tape.mounts", s.mounts)
	_ = s.Registry.Register("tape.unmounts", s.unmounts)
	_ = s.Registry.Register("preemptions", s.preemptions)

	return s
}

func (s *Stats) Preemptions() int64 {
	return s.preemptions.Count()
}

// Suspensions counts units that stopped early and went back to the queue.
func (s *Stats) Suspensions() int64 {
	return s.suspended.Count()
}

func (s *Stats) Mounts() int64 {
	return s.mounts.Count()
}

func (s *Stats) String() string {
	ps := s.completed.Percentiles([]float64{0.5, 0.95})
	return fmt.Sprintf("completed:%v queued:%v running:%v suspended:%v mounts:%v preemptions:%v errors:%v median:%v 95%%:%v",
		humanize.Comma(s.completed.Count()),
		humanize.Comma(s.queued.Count()),
		humanize.Comma(s.running.Count()),
		humanize.Comma(s.suspended.Count()),
		humanize.Comma(s.mounts.Count()),
		humanize.Comma(s.preemptions.Count()),
		humanize.Comma(s.unitErrors.Count()),
		time.Duration(int64(ps[0])),
		time.Duration(int64(ps[1])))
}

// logStats writes the counters every interval while they keep changing.
func (s *Stats) logStats(ctx context.Context, interval time.Duration) {
	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if current := s.String(); current != last {
				clog.Global().Infof("scheduler stats: %s", current)
				last = current
			}
		}
	}
}
