package pipeline

import (
	"sort"
	"strings"
)

// Blocklist tracks hosts that returned terminal 403s during this run, so
// later rows pointing at the same publisher fail fast instead of burning
// retry budget. Single-goroutine use only; the pipeline processes rows
// sequentially.
type Blocklist struct {
	hosts map[string]struct{}
}

// NewBlocklist returns an empty Blocklist.
func NewBlocklist() *Blocklist {
	return &Blocklist{hosts: make(map[string]struct{})}
}

// Add records a blocked host.
func (b *Blocklist) Add(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	b.hosts[host] = struct{}{}
}

// Blocked reports whether host was recorded.
func (b *Blocklist) Blocked(host string) bool {
	_, ok := b.hosts[strings.ToLower(strings.TrimSpace(host))]
	return ok
}

// Hosts returns the blocked hosts, sorted for stable reporting.
func (b *Blocklist) Hosts() []string {
	hosts := make([]string, 0, len(b.hosts))
	for h := range b.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Len returns the number of blocked hosts.
func (b *Blocklist) Len() int {
	return len(b.hosts)
}
