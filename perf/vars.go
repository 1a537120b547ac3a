package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency     = metric.NewHistogram("1m1s")
	SentPacketPerSecond = metric.NewCounter("10s1s")
	RecvPacketPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond  = metric.NewCounter("10s1s")
	RecvBytesPerSecond  = metric.NewCounter("10s1s")
	Retransmissions     = metric.NewCounter("1m1s")
	AckedFrames         = metric.NewCounter("1m1s")
	DuplicatePackets    = metric.NewCounter("1m1s")
	InvalidPackets      = metric.NewCounter("1m1s")
	DroppedPackets      = metric.NewCounter("1m1s")
	ForwardedPackets    = metric.NewCounter("1m1s")
	DeliveredPackets    = metric.NewCounter("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))

	expvar.Publish("flowsim:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("flowsim:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("flowsim:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("flowsim:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("flowsim:Retransmissions", Retransmissions)
	expvar.Publish("flowsim:AckedFrames", AckedFrames)
	expvar.Publish("flowsim:DuplicatePackets", DuplicatePackets)
	expvar.Publish("flowsim:InvalidPackets", InvalidPackets)
	expvar.Publish("flowsim:DroppedPackets", DroppedPackets)
	expvar.Publish("flowsim:ForwardedPackets", ForwardedPackets)
	expvar.Publish("flowsim:DeliveredPackets", DeliveredPackets)
	expvar.Publish("flowsim:DispatchLatency (µs)", DispatchLatency)
}
