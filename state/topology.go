package state

import (
	"github.com/encodeous/flowsim/protocol"
)

type Link struct {
	Router   NodeId
	Distance int
}

// RouterInfo is what the controller knows about one router after its feature reply.
type RouterInfo struct {
	Name NodeId
	// Host is empty if no host is attached
	Host  NodeId
	Links []Link
}

func RouterInfoFromFeatures(f protocol.FeatureReply) RouterInfo {
	info := RouterInfo{
		Name:  NodeId(f.Router),
		Host:  NodeId(f.Host),
		Links: make([]Link, 0, len(f.Links)),
	}
	for _, l := range f.Links {
		info.Links = append(info.Links, Link{Router: NodeId(l.Router), Distance: l.Distance})
	}
	return info
}

func (r RouterInfo) Features() protocol.FeatureReply {
	f := protocol.FeatureReply{
		Router: string(r.Name),
		Host:   string(r.Host),
		Links:  make([]protocol.Link, 0, len(r.Links)),
	}
	for _, l := range r.Links {
		f.Links = append(f.Links, protocol.Link{Router: string(l.Router), Distance: l.Distance})
	}
	return f
}

type HostAttachment struct {
	Host   NodeId
	Router NodeId
}

// Topology is the controller's graph. Routers and hosts are kept in the order they were declared,
// which makes flow computation deterministic.
type Topology struct {
	routers []RouterInfo
	index   map[NodeId]int
	hosts   []HostAttachment
}

func NewTopology() *Topology {
	return &Topology{
		index: make(map[NodeId]int),
	}
}

// AddRouter records a router's declaration. A router can only be declared once; later declarations
// are refused and AddRouter returns false.
func (t *Topology) AddRouter(info RouterInfo) bool {
	if _, ok := t.index[info.Name]; ok {
		return false
	}
	t.index[info.Name] = len(t.routers)
	t.routers = append(t.routers, info)
	if info.Host != "" && !t.hasHost(info.Host) {
		t.hosts = append(t.hosts, HostAttachment{Host: info.Host, Router: info.Name})
	}
	return true
}

func (t *Topology) hasHost(host NodeId) bool {
	for _, h := range t.hosts {
		if h.Host == host {
			return true
		}
	}
	return false
}

func (t *Topology) Router(name NodeId) (RouterInfo, bool) {
	idx, ok := t.index[name]
	if !ok {
		return RouterInfo{}, false
	}
	return t.routers[idx], true
}

func (t *Topology) Routers() []RouterInfo {
	return t.routers
}

func (t *Topology) Hosts() []HostAttachment {
	return t.hosts
}
