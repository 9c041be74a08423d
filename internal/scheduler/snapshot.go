package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tz := s.cfg.Timezone
	if tz == "" {
		tz = time.Local.String()
	}
	items := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		it := JobInfo{
			Name:      j.name,
			Kind:      j.kind,
			Cron:      j.spec,
			Timezone:  s.jobTZLocked(j),
			Message:   j.message,
			Armed:     s.c != nil && j.entryID != 0,
			Runs:      j.runs,
			Failures:  j.failures,
			LastError: j.lastErr,
		}
		if !j.lastRun.IsZero() {
			t := j.lastRun
			it.LastRun = &t
		}
		if it.Armed {
			next := s.c.Entry(j.entryID).Next
			if next.IsZero() {
				next = j.schedule.Next(now)
			}
			if !next.IsZero() {
				it.Next = &next
			}
		}
		items = append(items, it)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Name < items[b].Name })

	return Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: tz,
		Count:    len(items),
		Jobs:     items,
	}
}
