package state

import (
	"fmt"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/encodeous/flowsim/protocol"
)

var namePattern = regexp.MustCompile("^[0-9A-Za-z]{2}$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

// NameValidator checks that s fits a two byte id field on the wire
func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if s == protocol.NoName {
		return fmt.Errorf("%q is reserved", s)
	}
	return nil
}

func DistanceValidator(d int) error {
	if d < 0 || d > protocol.MaxDistance {
		return fmt.Errorf("distance %d must be between 0 and %d", d, protocol.MaxDistance)
	}
	return nil
}

func endpointValidator(what string, ep *Endpoint) error {
	if ep == nil {
		return fmt.Errorf("%s must be set", what)
	}
	if err := NameValidator(string(ep.Id)); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if !ep.Addr.IsValid() {
		return fmt.Errorf("%s %s has an invalid address", what, ep.Id)
	}
	return nil
}

// uniquePeers checks that every session of a node has its own id and address. Sessions are
// looked up by both, so a collision would merge two peers into one.
func uniquePeers(self NodeId, peers []*Endpoint) error {
	ids := make(map[NodeId]struct{})
	addrs := make(map[netip.AddrPort]NodeId)
	for _, ep := range peers {
		if ep.Id == self {
			return fmt.Errorf("peer %s has the id of this node", ep.Id)
		}
		if _, ok := ids[ep.Id]; ok {
			return fmt.Errorf("duplicate peer %s", ep.Id)
		}
		ids[ep.Id] = struct{}{}
		addr := netip.AddrPortFrom(ep.Addr.Addr().Unmap(), ep.Addr.Port())
		if other, ok := addrs[addr]; ok {
			return fmt.Errorf("peers %s and %s share the address %s", other, ep.Id, addr)
		}
		addrs[addr] = ep.Id
	}
	return nil
}

func NodeConfigValidator(node *NodeCfg) error {
	if err := NameValidator(string(node.Id)); err != nil {
		return err
	}
	if !node.Role.Valid() {
		return fmt.Errorf("node.Role %q is invalid", node.Role)
	}
	if !node.Bind.IsValid() {
		return fmt.Errorf("node.Bind is invalid")
	}
	for _, p := range node.Allow {
		if !p.IsValid() {
			return fmt.Errorf("allow prefix %s is invalid", p)
		}
	}
	if node.LogPath != "" {
		if err := PathValidator(node.LogPath); err != nil {
			return fmt.Errorf("log_path: %w", err)
		}
	}

	switch node.Role {
	case RoleRouter:
		if err := endpointValidator("controller", node.Controller); err != nil {
			return err
		}
		if node.Host != nil {
			if err := endpointValidator("host", node.Host); err != nil {
				return err
			}
		}
		peers := []*Endpoint{node.Controller}
		if node.Host != nil {
			peers = append(peers, node.Host)
		}
		for _, n := range node.Neighbours {
			if err := endpointValidator("neighbour", &n.Endpoint); err != nil {
				return err
			}
			if err := DistanceValidator(n.Distance); err != nil {
				return fmt.Errorf("neighbour %s: %w", n.Id, err)
			}
			if n.Id == node.Id {
				return fmt.Errorf("router %s cannot neighbour itself", n.Id)
			}
			peers = append(peers, &n.Endpoint)
		}
		if err := uniquePeers(node.Id, peers); err != nil {
			return err
		}
		if node.Router != nil || len(node.Hosts) != 0 {
			return fmt.Errorf("router and hosts are only valid for a host")
		}
	case RoleHost:
		if err := endpointValidator("router", node.Router); err != nil {
			return err
		}
		if err := uniquePeers(node.Id, []*Endpoint{node.Router}); err != nil {
			return err
		}
		for _, h := range node.Hosts {
			if err := NameValidator(string(h)); err != nil {
				return fmt.Errorf("hosts: %w", err)
			}
		}
		if node.Controller != nil || node.Host != nil || len(node.Neighbours) != 0 {
			return fmt.Errorf("a host only takes router and hosts")
		}
	case RoleController:
		if node.Controller != nil || node.Host != nil || len(node.Neighbours) != 0 || node.Router != nil || len(node.Hosts) != 0 {
			return fmt.Errorf("a controller takes no peer configuration")
		}
	}
	return nil
}
