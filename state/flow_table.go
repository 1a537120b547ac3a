package state

import (
	"slices"

	"github.com/encodeous/flowsim/protocol"
)

// FlowTable maps a destination host to the next-hop router.
type FlowTable map[NodeId]NodeId

// Replace discards every entry and installs entries. Routes are never merged, a newer computation
// may supersede a route with a shorter one.
func (t FlowTable) Replace(entries []protocol.FlowEntry) {
	clear(t)
	for _, e := range entries {
		t[NodeId(e.Host)] = NodeId(e.NextHop)
	}
}

func (t FlowTable) Lookup(host NodeId) (NodeId, bool) {
	hop, ok := t[host]
	return hop, ok
}

// Entries returns the table sorted by host.
func (t FlowTable) Entries() []protocol.FlowEntry {
	hosts := make([]NodeId, 0, len(t))
	for h := range t {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	entries := make([]protocol.FlowEntry, 0, len(hosts))
	for _, h := range hosts {
		entries = append(entries, protocol.FlowEntry{Host: string(h), NextHop: string(t[h])})
	}
	return entries
}
