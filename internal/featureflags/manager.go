// Package featureflags evaluates runtime switches such as the payout kill switch.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
)

// PayoutExecution gates every outbound transfer. Turning it off pauses
// approvals without touching rejections or request intake.
const PayoutExecution = "payout_execution"

// Manager evaluates feature flags parsed from a key=value list such as
// "payout_execution=on,webhook_notifier=25%". Flags can be flipped at runtime.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	return &Manager{flags: parse(raw)}
}

func parse(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// Set overrides one flag. An empty value removes it.
func (m *Manager) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, value = normalize(name), normalize(value)
	if value == "" {
		delete(m.flags, name)
		return
	}
	m.flags[name] = value
}

// Enabled reports whether name is on for userID. Values are on/true/1,
// off/false/0, or N% for a deterministic per-user rollout. Unknown flags are off.
func (m *Manager) Enabled(name string, userID int64) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	value, ok := m.flags[normalize(name)]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil || !strings.HasSuffix(value, "%") || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID int64) map[string]bool {
	raw := m.Raw()
	out := make(map[string]bool, len(raw))
	for name := range raw {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID int64) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}
