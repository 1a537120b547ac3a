package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDistance is the largest distance a FETRP token can carry.
const MaxDistance = 99

type Link struct {
	Router   string
	Distance int
}

// FeatureReply is a router's declaration of itself, its attached host and its direct neighbours.
//
//	payload = <router><host|"00">(<neighbour><distance>)*
type FeatureReply struct {
	Router string
	// Host is empty when no host is attached.
	Host  string
	Links []Link
}

func (f FeatureReply) Encode() (string, error) {
	if len(f.Router) != NameLen {
		return "", fmt.Errorf("router name %q must be %d bytes", f.Router, NameLen)
	}
	sb := strings.Builder{}
	sb.WriteString(f.Router)
	switch {
	case f.Host == "":
		sb.WriteString(NoName)
	case len(f.Host) == NameLen:
		sb.WriteString(f.Host)
	default:
		return "", fmt.Errorf("host name %q must be %d bytes", f.Host, NameLen)
	}
	for _, l := range f.Links {
		if len(l.Router) != NameLen {
			return "", fmt.Errorf("neighbour name %q must be %d bytes", l.Router, NameLen)
		}
		if l.Distance < 0 || l.Distance > MaxDistance {
			return "", fmt.Errorf("distance %d to %s does not fit in two digits", l.Distance, l.Router)
		}
		sb.WriteString(l.Router)
		if l.Distance < 10 {
			sb.WriteByte('0')
		}
		sb.WriteString(strconv.Itoa(l.Distance))
	}
	return sb.String(), nil
}

func DecodeFeatureReply(payload string) (FeatureReply, error) {
	if len(payload) < 2*NameLen || len(payload)%(2*NameLen) != 0 {
		return FeatureReply{}, fmt.Errorf("feature reply %q has a bad length", payload)
	}
	f := FeatureReply{
		Router: payload[0:2],
		Links:  make([]Link, 0, len(payload)/4-1),
	}
	if host := payload[2:4]; host != NoName {
		f.Host = host
	}
	for i := 4; i < len(payload); i += 4 {
		tok := payload[i+2 : i+4]
		if tok[0] < '0' || tok[0] > '9' || tok[1] < '0' || tok[1] > '9' {
			return FeatureReply{}, fmt.Errorf("feature reply %q has a bad distance at %d", payload, i+2)
		}
		d := int(tok[0]-'0')*10 + int(tok[1]-'0')
		f.Links = append(f.Links, Link{Router: payload[i : i+2], Distance: d})
	}
	return f, nil
}

// FlowEntry maps a destination host to the next-hop router.
type FlowEntry struct {
	Host    string
	NextHop string
}

// EncodeFlowMod renders entries as (<host><next hop>)*, four bytes per entry.
func EncodeFlowMod(entries []FlowEntry) (string, error) {
	sb := strings.Builder{}
	for _, e := range entries {
		if len(e.Host) != NameLen || len(e.NextHop) != NameLen {
			return "", fmt.Errorf("flow entry %s -> %s has bad names", e.Host, e.NextHop)
		}
		sb.WriteString(e.Host)
		sb.WriteString(e.NextHop)
	}
	return sb.String(), nil
}

func DecodeFlowMod(payload string) ([]FlowEntry, error) {
	if len(payload)%(2*NameLen) != 0 {
		return nil, fmt.Errorf("flow mod %q has a bad length", payload)
	}
	entries := make([]FlowEntry, 0, len(payload)/4)
	for i := 0; i < len(payload); i += 4 {
		entries = append(entries, FlowEntry{Host: payload[i : i+2], NextHop: payload[i+2 : i+4]})
	}
	return entries, nil
}
