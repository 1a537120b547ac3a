//go:build e2e

package e2e

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/testcontainers/testcontainers-go"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func StripAnsi(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

type logWaiter struct {
	node    string
	pattern *regexp.Regexp
	matched chan struct{}
}

func (w *logWaiter) try(content string) {
	if !w.pattern.MatchString(content) {
		return
	}
	select {
	case w.matched <- struct{}{}:
	default:
	}
}

// LogManager collects the output of every container. Waiters match against everything a node has
// logged so far, so a line logged before the wait started still counts.
type LogManager struct {
	mu      sync.Mutex
	waiters []*logWaiter
	history map[string]*strings.Builder
}

func NewLogManager() *LogManager {
	return &LogManager{
		history: make(map[string]*strings.Builder),
	}
}

func (m *LogManager) Accept(node string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.history[node]
	if !ok {
		b = &strings.Builder{}
		m.history[node] = b
	}
	b.WriteString(content)
	full := b.String()
	for _, w := range m.waiters {
		if w.node == node {
			w.try(full)
		}
	}
}

func (m *LogManager) Wait(node string, pattern *regexp.Regexp) (*logWaiter, func()) {
	w := &logWaiter{
		node:    node,
		pattern: pattern,
		matched: make(chan struct{}, 1),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters = append(m.waiters, w)
	if b, ok := m.history[node]; ok {
		w.try(b.String())
	}
	return w, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.waiters = slices.DeleteFunc(m.waiters, func(x *logWaiter) bool {
			return x == w
		})
	}
}

func (m *LogManager) History(node string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.history[node]; ok {
		return b.String()
	}
	return ""
}

// UnifiedLogConsumer feeds stdout and stderr of a container into the LogManager
type UnifiedLogConsumer struct {
	Node    string
	Manager *LogManager
}

func (c *UnifiedLogConsumer) Accept(l testcontainers.Log) {
	content := StripAnsi(string(l.Content))
	fmt.Printf("[%s:%s] %s", c.Node, l.LogType, content)
	c.Manager.Accept(c.Node, content)
}
