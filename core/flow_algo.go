package core

import (
	"slices"

	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
)

type pathEntry struct {
	Router state.NodeId
	Dist   int
	// Via is the first hop from the requester towards Router
	Via state.NodeId
}

type pathSet []pathEntry

func (p pathSet) index(router state.NodeId) int {
	return slices.IndexFunc(p, func(e pathEntry) bool {
		return e.Router == router
	})
}

// ComputeFlowTable runs Dijkstra from requester over the declared topology and maps every known
// host to the first hop towards its router. It returns false if the requester has not declared its
// features yet. Hosts behind unreachable routers are omitted.
func ComputeFlowTable(t *state.Topology, requester state.NodeId) ([]protocol.FlowEntry, bool) {
	self, ok := t.Router(requester)
	if !ok {
		return nil, false
	}
	permanent := pathSet{{Router: requester, Dist: 0, Via: requester}}
	tentative := make(pathSet, 0, len(self.Links))

	relax := func(router state.NodeId, dist int, via state.NodeId) {
		if permanent.index(router) != -1 {
			return
		}
		if idx := tentative.index(router); idx != -1 {
			if dist < tentative[idx].Dist {
				tentative[idx].Dist = dist
				tentative[idx].Via = via
			}
			return
		}
		tentative = append(tentative, pathEntry{Router: router, Dist: dist, Via: via})
	}

	for _, l := range self.Links {
		relax(l.Router, l.Distance, l.Router)
	}

	for len(tentative) > 0 {
		best := 0
		for i := 1; i < len(tentative); i++ {
			if tentative[i].Dist < tentative[best].Dist {
				best = i
			}
		}
		cur := tentative[best]
		tentative = slices.Delete(tentative, best, best+1)
		permanent = append(permanent, cur)

		// a neighbour that has not declared its features has no known onward links
		info, ok := t.Router(cur.Router)
		if !ok {
			continue
		}
		for _, l := range info.Links {
			relax(l.Router, cur.Dist+l.Distance, cur.Via)
		}
	}

	entries := make([]protocol.FlowEntry, 0, len(t.Hosts()))
	for _, h := range t.Hosts() {
		idx := permanent.index(h.Router)
		if idx == -1 {
			continue
		}
		entries = append(entries, protocol.FlowEntry{Host: string(h.Host), NextHop: string(permanent[idx].Via)})
	}
	return entries, true
}
