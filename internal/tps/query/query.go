// Package query implements the §6 query interface against the storage
// façade: ListDates, ListRecordings, and CacheStatus, all IANA-timezone
// aware per the caller-supplied location.
package query

import (
	"sort"
	"time"

	"github.com/jmylchreest/tpsplay/internal/tps/storage"
	"github.com/jmylchreest/tpsplay/internal/tps/tpsmodel"
)

// Recording is one {id, channel, start, end, duration, frame_count} row
// of the §6 list_recordings query.
type Recording struct {
	ID         int
	Channel    int32
	Start      time.Time
	End        time.Time
	Duration   time.Duration
	FrameCount int
}

// CacheStatus mirrors storage.Progress for the query-surface consumer,
// decoupling callers from the storage package's internal type.
type CacheStatus struct {
	State   string
	Built   int
	Total   int
	Percent float64
}

// ListDates returns the sorted set of YYYY-MM-DD dates (in loc) that have
// at least one segment on channel, or across all channels when channel is
// nil.
func ListDates(s *storage.Storage, channel *int32, loc *time.Location) []string {
	seen := make(map[string]struct{})
	for _, seg := range s.MasterIndex().Segments {
		if channel != nil && seg.Channel != *channel {
			continue
		}
		for _, d := range datesSpanned(seg, loc) {
			seen[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// datesSpanned returns every YYYY-MM-DD date string the segment's
// [start,end] interval touches in loc, inclusive of both endpoints' days.
func datesSpanned(seg tpsmodel.Segment, loc *time.Location) []string {
	start := time.Unix(seg.StartTime, 0).In(loc)
	end := time.Unix(seg.EndTime, 0).In(loc)

	startDay := truncateToDay(start)
	endDay := truncateToDay(end)

	var out []string
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ListRecordings returns every segment whose [start,end] interval
// overlaps the given date (in loc), optionally filtered to one channel,
// ordered by start time.
func ListRecordings(s *storage.Storage, date string, channel *int32, loc *time.Location) ([]Recording, error) {
	dayStart, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, err
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	var out []Recording
	for _, seg := range s.MasterIndex().Segments {
		if channel != nil && seg.Channel != *channel {
			continue
		}
		start := time.Unix(seg.StartTime, 0).In(loc)
		end := time.Unix(seg.EndTime, 0).In(loc)
		if end.Before(dayStart) || !start.Before(dayEnd) {
			continue
		}
		out = append(out, Recording{
			ID:         seg.FileIndex,
			Channel:    seg.Channel,
			Start:      start,
			End:        end,
			Duration:   seg.Duration(),
			FrameCount: seg.FrameCount,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// GetCacheStatus reports the storage façade's bulk-prebuild progress.
func GetCacheStatus(s *storage.Storage) CacheStatus {
	p := s.Progress()
	percent := 0.0
	if p.Total > 0 {
		percent = 100 * float64(p.Built) / float64(p.Total)
	}
	return CacheStatus{
		State:   p.State.String(),
		Built:   p.Built,
		Total:   p.Total,
		Percent: percent,
	}
}
