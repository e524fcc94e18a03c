// Command fabricnode starts one node of the messaging fabric: it loads
// configuration, installs the process-wide logger, opens a socket
// transport listener, and wires each accepted connection into the
// rate-limited channel stack. It exists to give the fabric's components
// one concrete, runnable wiring point; the interesting behavior lives in
// the packages it imports.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/cumulusmesh/fabric/channel"
	"github.com/cumulusmesh/fabric/config"
	"github.com/cumulusmesh/fabric/fabriclog"
	"github.com/cumulusmesh/fabric/metrics"
	"github.com/cumulusmesh/fabric/scheduler"
	"github.com/cumulusmesh/fabric/transport"
	"github.com/cumulusmesh/fabric/version"
)

var log = fabriclog.GetLogger("fabric/node")

func main() {
	configPath := flag.String("config", "", "path to a TOML node configuration file")
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	fabriclog.Init(cfg.Logging.Level)
	log.Noticef("fabric node starting, build=%s", version.String())

	sink := metrics.New(cfg.Metrics.Host, cfg.Metrics.Port, cfg.Metrics.Prefix).WithPrefix(version.MetricsSuffix())
	sched := scheduler.New(16)
	group := channel.NewRateLimitedChannelGroup(cfg.RateLimit.Throughput, sched)

	outCost, err := config.ByteCostFunc(cfg.RateLimit.CostOut)
	if err != nil {
		log.Errorf("bad cost_out: %v", err)
		os.Exit(1)
	}
	inCost, err := config.ByteCostFunc(cfg.RateLimit.CostIn)
	if err != nil {
		log.Errorf("bad cost_in: %v", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", cfg.Node.ListenAddress)
	if err != nil {
		log.Errorf("listen %s: %v", cfg.Node.ListenAddress, err)
		os.Exit(1)
	}
	log.Noticef("listening on %s", cfg.Node.ListenAddress)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Warningf("accept: %v", err)
			continue
		}
		go acceptConn(conn, sched, group, outCost, inCost, sink)
	}
}

// acceptConn wires one incoming connection up through the byte-transport
// → rate-limited-wrapper stack. The resulting raw byte channel is ready
// to be handed to channel.NewSerializedChannel by a caller that knows the
// node's message type; this command only demonstrates the transport and
// rate-limit layers.
func acceptConn(
	conn net.Conn,
	sched *scheduler.Scheduler,
	group *channel.RateLimitedChannelGroup,
	outCost, inCost channel.CostFunc[[]byte],
	sink *metrics.Sink,
) {
	raw, err := transport.NewSocketTransport(conn)
	if err != nil {
		log.Warningf("socket transport setup for %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	sink.Increment("connections.accepted", 1)
	wrapped := channel.Wrap[[]byte, []byte](group, raw, sched, outCost, inCost)
	wrapped.SetHandlers(
		func(frame []byte) { sink.Histogram("frame.bytes.in", int64(len(frame))) },
		func() { sink.Increment("connections.disconnected", 1) },
	)
}
