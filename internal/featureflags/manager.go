// Package featureflags evaluates rollout flags from a "name=value,..." list.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flags understood by the messaging core.
const (
	// DMNotifications adds a "message" notification for the recipient of a direct message.
	DMNotifications = "dm_notifications"
	// TypingIndicators enables the typing broadcast.
	TypingIndicators = "typing_indicators"
)

// Evaluator is the read side of a Manager.
type Evaluator interface {
	Enabled(name string, userID uint) bool
}

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "dm_notifications=on,typing_indicators=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a manager from a comma-separated list. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	m, _ := parse(raw)
	return m
}

// Parse is NewManager that reports every malformed pair.
func Parse(raw string) (*Manager, error) {
	m, bad := parse(raw)
	if len(bad) > 0 {
		return m, fmt.Errorf("malformed feature flags: %s", strings.Join(bad, ", "))
	}
	return m, nil
}

func parse(raw string) (*Manager, []string) {
	out := make(map[string]string)
	var bad []string

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key, value = normalize(key), normalize(value)
		if !ok || key == "" || !validValue(value) {
			bad = append(bad, pair)
			continue
		}
		out[key] = value
	}
	return &Manager{flags: out}, bad
}

func validValue(v string) bool {
	switch v {
	case "on", "true", "1", "off", "false", "0":
		return true
	}
	if pct, ok := strings.CutSuffix(v, "%"); ok {
		n, err := strconv.Atoi(pct)
		return err == nil && n >= 0 && n <= 100
	}
	return false
}

// Enabled returns whether a flag is enabled for a given user.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic user rollout, e.g. 25%)
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil, pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Names lists configured flags in sorted order.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.flags))
	for k := range m.flags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
