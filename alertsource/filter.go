package alertsource

import "strings"

// Filter selects which fetched alerts are eligible for investigation.
//
// The blacklist is applied first, then the status filter, then the
// whitelist: a blacklisted alert is dropped even when a whitelist entry
// matches it. A whitelist entry matches an alert when it equals the alert
// name exactly or is a prefix of the alert fingerprint; an empty whitelist
// accepts every alert that survived the earlier checks.
type Filter struct {
	Whitelist []string
	Blacklist []string
	Status    string
}

// Apply returns the alerts that pass the filter, preserving input order.
func (f Filter) Apply(alerts []Alert) []Alert {
	var out []Alert
	for _, a := range alerts {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	return out
}

func (f Filter) matches(a Alert) bool {
	for _, name := range f.Blacklist {
		if name == a.Name() {
			return false
		}
	}

	if f.Status != "" && !strings.EqualFold(a.Status.State, f.Status) {
		return false
	}

	if len(f.Whitelist) == 0 {
		return true
	}
	for _, entry := range f.Whitelist {
		if entry == a.Name() || (entry != "" && strings.HasPrefix(a.Fingerprint, entry)) {
			return true
		}
	}
	return false
}
