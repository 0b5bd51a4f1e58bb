package alertsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mkAlert(name, fingerprint, state string) Alert {
	return Alert{
		Fingerprint: fingerprint,
		Labels:      map[string]string{"alertname": name},
		Status:      AlertStatus{State: state},
	}
}

func TestFilterBlacklist(t *testing.T) {
	alerts := []Alert{
		mkAlert("Watchdog", "aaa111", "active"),
		mkAlert("KubePodCrashLooping", "bbb222", "active"),
	}

	f := Filter{Blacklist: []string{"Watchdog"}, Status: "active"}
	got := f.Apply(alerts)

	assert.Len(t, got, 1)
	assert.Equal(t, "KubePodCrashLooping", got[0].Name())
}

func TestFilterBlacklistBeatsWhitelist(t *testing.T) {
	alerts := []Alert{
		mkAlert("Watchdog", "aaa111", "firing"),
		mkAlert("KubePodCrashLooping", "bbb222", "firing"),
	}

	f := Filter{
		Whitelist: []string{"Watchdog"},
		Blacklist: []string{"Watchdog"},
		Status:    "firing",
	}
	assert.Empty(t, f.Apply(alerts))
}

func TestFilterWhitelistKeepsOnlyMatches(t *testing.T) {
	alerts := []Alert{
		mkAlert("Watchdog", "aaa111", "active"),
		mkAlert("KubePodCrashLooping", "bbb222", "active"),
	}

	f := Filter{Whitelist: []string{"Watchdog"}}
	got := f.Apply(alerts)

	assert.Len(t, got, 1)
	assert.Equal(t, "Watchdog", got[0].Name())
}

func TestFilterWhitelistFingerprintPrefix(t *testing.T) {
	alerts := []Alert{
		mkAlert("HighLatency", "deadbeef01", "active"),
		mkAlert("HighLatency", "cafebabe02", "active"),
	}

	f := Filter{Whitelist: []string{"deadbeef"}}
	got := f.Apply(alerts)

	assert.Len(t, got, 1)
	assert.Equal(t, "deadbeef01", got[0].Fingerprint)
}

func TestFilterStatus(t *testing.T) {
	alerts := []Alert{
		mkAlert("HighLatency", "aaa", "active"),
		mkAlert("HighLatency", "bbb", "suppressed"),
	}

	f := Filter{Status: "active"}
	got := f.Apply(alerts)

	assert.Len(t, got, 1)
	assert.Equal(t, "aaa", got[0].Fingerprint)
}

func TestFilterStatusCaseInsensitive(t *testing.T) {
	alerts := []Alert{mkAlert("HighLatency", "aaa", "Active")}

	f := Filter{Status: "active"}
	assert.Len(t, f.Apply(alerts), 1)
}

func TestFilterEmptyKeepsAll(t *testing.T) {
	alerts := []Alert{
		mkAlert("A", "1", "active"),
		mkAlert("B", "2", "suppressed"),
	}

	f := Filter{}
	assert.Len(t, f.Apply(alerts), 2)
}

func TestAlertNameFallback(t *testing.T) {
	a := Alert{Fingerprint: "x", Labels: map[string]string{}}
	assert.Equal(t, "unknown", a.Name())
}
