package trigger

import (
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// instanceOffset maps an instance id to a fixed offset in [0, limit). Every
// daemon sharing a store gets its own slot, and keeps it across restarts.
func instanceOffset(instance string, limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(xxhash.Sum64String(instance) % uint64(limit))
}

// defaultInstance is "<hostname>:<pid>".
func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}

// alignedEvery fires on multiples of every counted from the zero time, so
// instances with the same interval share slot boundaries.
type alignedEvery struct{ every time.Duration }

func newAlignedEvery(every time.Duration) alignedEvery {
	return alignedEvery{every: max(every.Round(time.Second), time.Second)}
}

func (a alignedEvery) Next(t time.Time) time.Time {
	return t.Truncate(a.every).Add(a.every)
}

// shiftedSchedule fires offset after every fire time of base.
type shiftedSchedule struct {
	base   cron.Schedule
	offset time.Duration
}

func (s shiftedSchedule) Next(t time.Time) time.Time {
	next := s.base.Next(t.Add(-s.offset))
	if next.IsZero() {
		return next
	}
	return next.Add(s.offset)
}

// spread shifts base by the instance's offset, at most maxStartupSpread and
// less than one period for interval sweeps.
func spread(base cron.Schedule, every time.Duration, instance string) (cron.Schedule, time.Duration) {
	limit := maxStartupSpread
	if every > 0 {
		limit = min(every, limit)
	}
	offset := instanceOffset(instance, limit)
	if offset == 0 {
		return base, 0
	}
	return shiftedSchedule{base: base, offset: offset}, offset
}
