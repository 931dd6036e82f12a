package retrieve

import "time"

// matchesScope applies spec.md §4.7's scoping rule: personal means
// metadata user_id == requester, group means metadata group_id ==
// requested group, all means either. An empty group_id metadata value
// denotes a personal-only record.
func matchesScope(md map[string]string, opt Options) bool {
	switch opt.Scope {
	case ScopePersonal:
		return md["user_id"] != "" && md["user_id"] == opt.UserID
	case ScopeGroup:
		return opt.GroupID != "" && md["group_id"] == opt.GroupID
	default: // ScopeAll or unset
		if opt.GroupID != "" && md["group_id"] == opt.GroupID {
			return true
		}
		return md["user_id"] != "" && md["user_id"] == opt.UserID
	}
}

// matchesTimeRange excludes records whose timestamp metadata falls outside
// opt.TimeRange, and excludes records carrying validity-window metadata
// (valid_from/valid_to) when opt.CurrentTime falls outside both bounds,
// when both are present. Missing/unparseable fields are treated as always
// matching rather than excluded, per the "under-specified in the source"
// note this module resolves explicitly.
func matchesTimeRange(md map[string]string, opt Options) bool {
	if opt.TimeRange != nil {
		ts, ok := parseTimestamp(md["timestamp"])
		if ok {
			if opt.TimeRange.Start != nil && ts.Before(*opt.TimeRange.Start) {
				return false
			}
			if opt.TimeRange.End != nil && ts.After(*opt.TimeRange.End) {
				return false
			}
		}
	}
	if opt.CurrentTime != nil {
		start, hasStart := parseTimestamp(md["valid_from"])
		end, hasEnd := parseTimestamp(md["valid_to"])
		if hasStart && hasEnd {
			if opt.CurrentTime.Before(start) || opt.CurrentTime.After(end) {
				return false
			}
		}
	}
	return true
}

func parseTimestamp(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
