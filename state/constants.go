package state

import "time"

const (
	// MaxWindow is the most frames a sender may have unacknowledged per peer. One of the 16 sequence
	// numbers stays free so a full window is distinguishable from an empty one.
	MaxWindow = 15
)

var (
	RetransmitDelay   = time.Second * 3
	RetransmitTick    = time.Millisecond * 100
	WindowFullBackoff = time.Millisecond * 500
	MaxPacketSize     = 65536
	UnknownPeerLogTTL = time.Second * 10

	// host traffic
	TrafficMinDelay    = time.Second * 5
	TrafficMaxDelay    = time.Second * 10
	TrafficProbability = 0.4
	TrafficPayloadMax  = 1_000_000

	// default ports used by the example network
	DefaultControllerPort = 9000
)

var (
	DBG_debug    = false
	DBG_log_wire = false
)
