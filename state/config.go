package state

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/cilium/cilium/pkg/ip"
	"github.com/goccy/go-yaml"
)

// Endpoint names a remote node and where to reach it
type Endpoint struct {
	Id   NodeId         `yaml:"id"`
	Addr netip.AddrPort `yaml:"addr"`
}

type NeighbourCfg struct {
	Endpoint `yaml:",inline"`
	Distance int `yaml:"distance"`
}

// NodeCfg is the configuration of a single node process
type NodeCfg struct {
	Id      NodeId         `yaml:"id"`
	Role    Role           `yaml:"role"`
	Bind    netip.AddrPort `yaml:"bind"`
	LogPath string         `yaml:"log_path,omitempty"` // if not empty, logs are also written to this file
	// Allow bounds the source addresses datagrams are accepted from. Defaults to loopback.
	Allow []netip.Prefix `yaml:"allow,omitempty"`
	// Deny is carved out of Allow
	Deny []netip.Prefix `yaml:"deny,omitempty"`

	// router
	Controller *Endpoint      `yaml:"controller,omitempty"`
	Host       *Endpoint      `yaml:"host,omitempty"` // the directly attached host, if any
	Neighbours []NeighbourCfg `yaml:"neighbours,omitempty"`

	// host
	Router    *Endpoint `yaml:"router,omitempty"`
	Hosts     []NodeId  `yaml:"hosts,omitempty"`      // every host on the network, used to pick traffic destinations
	NoTraffic bool      `yaml:"no_traffic,omitempty"` // do not generate random traffic
}

var DefaultAllow = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// ExpandNodeConfig fills in defaults and reduces the allow list to the smallest set of prefixes
// covering Allow minus Deny
func ExpandNodeConfig(cfg *NodeCfg) {
	if len(cfg.Allow) == 0 {
		cfg.Allow = append([]netip.Prefix(nil), DefaultAllow...)
	}
	if len(cfg.Deny) != 0 {
		cfg.Allow = SubtractPrefix(cfg.Allow, cfg.Deny)
		cfg.Deny = nil
	} else {
		cfg.Allow = CoalescePrefix(cfg.Allow)
	}
}

func toIPNets(prefixes []netip.Prefix) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			p = p.Masked()
			nets = append(nets, &net.IPNet{
				IP:   p.Addr().AsSlice(),
				Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
			})
		}
	}
	return nets
}

func fromIPNets(nets []*net.IPNet) []netip.Prefix {
	output := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		if addr, ok := netip.AddrFromSlice(n.IP); ok {
			ones, _ := n.Mask.Size()
			output = append(output, netip.PrefixFrom(addr.Unmap(), ones))
		}
	}
	return output
}

func SubtractPrefix(includes, excludes []netip.Prefix) []netip.Prefix {
	result := ip.RemoveCIDRs(toIPNets(includes), toIPNets(excludes))
	ipv4, ipv6 := ip.CoalesceCIDRs(result)
	return fromIPNets(append(ipv4, ipv6...))
}

func CoalescePrefix(prefixes []netip.Prefix) []netip.Prefix {
	ipv4, ipv6 := ip.CoalesceCIDRs(toIPNets(prefixes))
	return fromIPNets(append(ipv4, ipv6...))
}

func ReadNodeConfig(path string) (*NodeCfg, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg NodeCfg
	if err = yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	ExpandNodeConfig(&cfg)
	if err = NodeConfigValidator(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func WriteNodeConfig(path string, cfg *NodeCfg) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

// RouterInfo is what a router declares about itself in its feature reply
func (cfg *NodeCfg) RouterInfo() RouterInfo {
	info := RouterInfo{
		Name:  cfg.Id,
		Links: make([]Link, 0, len(cfg.Neighbours)),
	}
	if cfg.Host != nil {
		info.Host = cfg.Host.Id
	}
	for _, n := range cfg.Neighbours {
		info.Links = append(info.Links, Link{Router: n.Id, Distance: n.Distance})
	}
	return info
}
