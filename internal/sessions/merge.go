package sessions

import (
	"sort"
	"strings"
	"time"

	"github.com/DexBinion/nuscape-backend/internal/domain"
)

// DefaultGapSeconds is the tolerance below which adjacent intervals are
// considered one continuous session.
const DefaultGapSeconds = 120

// Launcher/home-screen packages whose foreground time is not meaningful
// usage and never counts toward top_apps.
var launcherDenylist = map[string]struct{}{
	"com.google.android.apps.nexuslauncher": {},
	"com.android.launcher":                  {},
	"com.android.launcher3":                 {},
	"com.samsung.android.launcher":          {},
	"com.miui.home":                         {},
	"com.microsoft.launcher":                {},
}

// AppKey picks the partitioning key for an interval: package, then
// canonical id, then display name.
func AppKey(r domain.UsageIntervalRow) string {
	if r.AppPackage != nil && *r.AppPackage != "" {
		return *r.AppPackage
	}
	if r.AppID != nil && *r.AppID != "" {
		return *r.AppID
	}
	if r.AppName != nil && *r.AppName != "" {
		return *r.AppName
	}
	return "unknown"
}

// ClipToDay drops intervals that do not overlap [dayStart, dayEnd) and
// clamps the survivors to the day's boundaries.
func ClipToDay(rows []domain.UsageIntervalRow, dayStart, dayEnd time.Time) []domain.UsageIntervalRow {
	out := make([]domain.UsageIntervalRow, 0, len(rows))
	for _, r := range rows {
		if !r.End.After(dayStart) || !r.Start.Before(dayEnd) {
			continue
		}
		c := r
		if c.Start.Before(dayStart) {
			c.Start = dayStart
		}
		if c.End.After(dayEnd) {
			c.End = dayEnd
		}
		out = append(out, c)
	}
	return out
}

type partitionKey struct {
	device string
	app    string
}

// BuildDeviceSessions merges clipped raw intervals into per-device,
// per-app sessions: a linear scan over the start-sorted partition that
// starts a new session whenever the next interval begins more than the
// gap tolerance after the running session's end, and otherwise extends
// the running end to the maximum of the two.
func BuildDeviceSessions(rows []domain.UsageIntervalRow, gap time.Duration) []domain.DeviceSession {
	parts := make(map[partitionKey][]domain.UsageIntervalRow)
	for _, r := range rows {
		k := partitionKey{device: r.DeviceID.String(), app: AppKey(r)}
		parts[k] = append(parts[k], r)
	}

	var out []domain.DeviceSession
	for _, rows := range parts {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Start.Before(rows[j].Start) })

		var cur *domain.DeviceSession
		for _, r := range rows {
			if cur != nil && !r.Start.After(cur.End.Add(gap)) {
				if r.End.After(cur.End) {
					cur.End = r.End
				}
				cur.FragmentCount++
				fillIdentity(cur, r)
				continue
			}
			if cur != nil {
				out = append(out, finishSession(*cur))
			}
			s := domain.DeviceSession{
				DeviceID:      r.DeviceID,
				Start:         r.Start,
				End:           r.End,
				FragmentCount: 1,
			}
			fillIdentity(&s, r)
			cur = &s
		}
		if cur != nil {
			out = append(out, finishSession(*cur))
		}
	}

	// Deterministic output order regardless of map iteration.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID.String() < out[j].DeviceID.String()
		}
		return sessionAppKey(out[i]) < sessionAppKey(out[j])
	})
	return out
}

func fillIdentity(s *domain.DeviceSession, r domain.UsageIntervalRow) {
	if s.AppID == nil && r.AppID != nil {
		s.AppID = r.AppID
	}
	if s.AppPackage == nil && r.AppPackage != nil {
		s.AppPackage = r.AppPackage
	}
	if s.AppName == nil && r.AppName != nil {
		s.AppName = r.AppName
	}
}

func finishSession(s domain.DeviceSession) domain.DeviceSession {
	secs := int(s.End.Sub(s.Start) / time.Second)
	if secs < 1 {
		secs = 1
	}
	s.DurationSeconds = secs
	return s
}

func sessionAppKey(s domain.DeviceSession) string {
	if s.AppPackage != nil && *s.AppPackage != "" {
		return *s.AppPackage
	}
	if s.AppID != nil && *s.AppID != "" {
		return *s.AppID
	}
	if s.AppName != nil && *s.AppName != "" {
		return *s.AppName
	}
	return "unknown"
}

// BuildAttentionSessions applies the same gap-merge to the stage-one
// output with no partition key, so overlapping sessions from different
// devices collapse into a single engagement interval.
func BuildAttentionSessions(sessions []domain.DeviceSession, gap time.Duration) []domain.AttentionSession {
	if len(sessions) == 0 {
		return nil
	}

	sorted := make([]domain.DeviceSession, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var out []domain.AttentionSession
	var cur *domain.AttentionSession
	var devices map[string]struct{}

	flush := func() {
		if cur == nil {
			return
		}
		secs := int(cur.End.Sub(cur.Start) / time.Second)
		if secs < 1 {
			secs = 1
		}
		cur.DurationSeconds = secs
		cur.DeviceIDs = sortedKeys(devices)
		cur.DeviceCount = len(cur.DeviceIDs)
		if cur.DeviceCount < 1 {
			cur.DeviceCount = 1
		}
		out = append(out, *cur)
	}

	for _, s := range sorted {
		if cur != nil && !s.Start.After(cur.End.Add(gap)) {
			if s.End.After(cur.End) {
				cur.End = s.End
			}
			devices[s.DeviceID.String()] = struct{}{}
			continue
		}
		flush()
		cur = &domain.AttentionSession{Start: s.Start, End: s.End}
		devices = map[string]struct{}{s.DeviceID.String(): {}}
	}
	flush()
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DailyTotals aggregates both stages into the day's totals row.
type DailyTotals struct {
	TotalAttentionSec int
	DeviceBreakdown   []domain.DeviceTotal
	TopApps           []domain.AppTotal
}

// BuildDailyTotals sums attention durations for the day total, device
// sessions per device for the breakdown, and device sessions per app key
// for top_apps, excluding launcher packages by denylist and by the
// "launcher" name heuristic.
func BuildDailyTotals(deviceSessions []domain.DeviceSession, attention []domain.AttentionSession) DailyTotals {
	var t DailyTotals

	for _, a := range attention {
		t.TotalAttentionSec += a.DurationSeconds
	}

	bySeconds := map[string]int{}
	for _, s := range deviceSessions {
		bySeconds[s.DeviceID.String()] += s.DurationSeconds
	}
	for id, secs := range bySeconds {
		t.DeviceBreakdown = append(t.DeviceBreakdown, domain.DeviceTotal{DeviceID: id, Seconds: secs})
	}
	sort.Slice(t.DeviceBreakdown, func(i, j int) bool {
		if t.DeviceBreakdown[i].Seconds != t.DeviceBreakdown[j].Seconds {
			return t.DeviceBreakdown[i].Seconds > t.DeviceBreakdown[j].Seconds
		}
		return t.DeviceBreakdown[i].DeviceID < t.DeviceBreakdown[j].DeviceID
	})

	type appAgg struct {
		pkg, id, name *string
		secs          int
	}
	byApp := map[string]*appAgg{}
	for _, s := range deviceSessions {
		key := sessionAppKey(s)
		agg, ok := byApp[key]
		if !ok {
			agg = &appAgg{}
			byApp[key] = agg
		}
		if agg.pkg == nil && s.AppPackage != nil {
			agg.pkg = s.AppPackage
		}
		if agg.id == nil && s.AppID != nil {
			agg.id = s.AppID
		}
		if agg.name == nil && s.AppName != nil {
			agg.name = s.AppName
		}
		agg.secs += s.DurationSeconds
	}

	for _, agg := range byApp {
		if isLauncher(agg.pkg, agg.name) {
			continue
		}
		t.TopApps = append(t.TopApps, domain.AppTotal{
			AppPackage: agg.pkg,
			AppID:      agg.id,
			AppName:    agg.name,
			Seconds:    agg.secs,
		})
	}
	sort.Slice(t.TopApps, func(i, j int) bool {
		if t.TopApps[i].Seconds != t.TopApps[j].Seconds {
			return t.TopApps[i].Seconds > t.TopApps[j].Seconds
		}
		return appTotalKey(t.TopApps[i]) < appTotalKey(t.TopApps[j])
	})

	return t
}

func appTotalKey(a domain.AppTotal) string {
	if a.AppPackage != nil {
		return *a.AppPackage
	}
	if a.AppID != nil {
		return *a.AppID
	}
	if a.AppName != nil {
		return *a.AppName
	}
	return ""
}

func isLauncher(pkg, name *string) bool {
	p := ""
	if pkg != nil {
		p = strings.ToLower(strings.TrimSpace(*pkg))
	}
	if p != "" {
		_, denied := launcherDenylist[p]
		return denied
	}
	if name != nil && strings.Contains(strings.ToLower(*name), "launcher") {
		return true
	}
	return false
}
