// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"time"

	"github.com/codegangsta/cli"
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tabletboot/internal/blockstore"
	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/internal/remotebootstrap"
	"github.com/westerndigitalcorporation/tabletboot/internal/server"
	"github.com/westerndigitalcorporation/tabletboot/internal/tablet"
	"github.com/westerndigitalcorporation/tabletboot/pkg/failures"
	"github.com/westerndigitalcorporation/tabletboot/pkg/rpc"
	"github.com/westerndigitalcorporation/tabletboot/platform/discovery"
)

var usage = `
	tabletboot runs a single remote tablet bootstrap: it connects to a
	remote leader replica, downloads a tablet's WAL segments and data
	blocks, and swaps the tablet's local superblock in once everything
	needed to serve it has landed on disk.
	`

func main() {
	app := cli.NewApp()
	app.Name = "tabletboot"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "tablet", Usage: "tablet id to bootstrap"},
		cli.StringFlag{Name: "local-uuid", Usage: "this replica's permanent peer uuid"},
		cli.StringFlag{Name: "leader-addr", Usage: "host:port of the leader replica to bootstrap from"},
		cli.StringFlag{Name: "leader-service", Usage: "service discovery name to resolve the leader's address from, if -leader-addr is not given"},
		cli.StringFlag{Name: "data-dir", Value: "/var/tabletboot/data", Usage: "root directory for WAL segments and blocks"},
		cli.StringFlag{Name: "meta-db", Value: "/var/tabletboot/meta.db", Usage: "path to the tablet metadata store"},
		cli.StringFlag{Name: "block-index-db", Value: "/var/tabletboot/blocks.db", Usage: "path to the local block allocation index"},
		cli.IntFlag{Name: "rpc-max-message-size", Value: 8 << 20, Usage: "transport's maximum RPC message size, in bytes"},
		cli.IntFlag{Name: "begin-session-timeout-ms", Value: int(core.DefaultBeginSessionTimeout / time.Millisecond), Usage: "deadline for BeginSession/EndSession RPCs"},
		cli.DurationFlag{Name: "dial-timeout", Value: 5 * time.Second, Usage: "timeout for establishing the RPC connection"},
		cli.IntFlag{Name: "throttle-bytes-per-sec", Usage: "cap on chunk fetch throughput; 0 disables throttling"},
		cli.BoolFlag{Name: "use-failure", Usage: "enable the failure injection service"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("tabletboot: %v", err)
	}
}

func run(c *cli.Context) error {
	tabletID := core.TabletID(c.String("tablet"))
	if !tabletID.IsValid() {
		log.Fatalf("tabletboot: -tablet is required")
	}
	localUUID := core.PeerUUID(c.String("local-uuid"))
	if localUUID == "" {
		log.Fatalf("tabletboot: -local-uuid is required")
	}
	leaderAddr := c.String("leader-addr")
	if leaderAddr == "" {
		service := c.String("leader-service")
		if service == "" {
			log.Fatalf("tabletboot: one of -leader-addr or -leader-service is required")
		}
		addr, err := resolveLeaderAddr(service)
		if err != nil {
			log.Fatalf("tabletboot: resolving -leader-service %q: %v", service, err)
		}
		leaderAddr = addr
	}

	var opFailure *server.OpFailure
	if c.Bool("use-failure") {
		log.Infof("tabletboot: enabling failure injection service")
		failures.Init()
		opFailure = server.NewOpFailure()
		if err := failures.Register(remotebootstrap.OpFailureKey, opFailure.Handler); err != nil {
			log.Fatalf("tabletboot: registering failure handler: %v", err)
		}
	}

	blocks, err := blockstore.NewFileManager(c.String("data-dir")+"/blocks", c.String("block-index-db"))
	if err != nil {
		log.Fatalf("tabletboot: opening block store: %v", err)
	}
	defer blocks.Close()

	meta, err := tablet.OpenMetadataStore(c.String("meta-db"))
	if err != nil {
		log.Fatalf("tabletboot: opening metadata store: %v", err)
	}
	defer meta.Close()

	walStore := tablet.NewWALStore(c.String("data-dir"))
	cstore := tablet.NewConsensusStore(c.String("data-dir") + "/consensus")

	dialTimeout := c.Duration("dial-timeout")
	beginTimeout := time.Duration(c.Int("begin-session-timeout-ms")) * time.Millisecond
	cc := rpc.NewConnectionCache(dialTimeout, beginTimeout, 0)
	proxy := remotebootstrap.NewRemoteProxy(cc, leaderAddr)

	maxChunk := uint64(c.Int("rpc-max-message-size")) - core.RPCHeaderMargin

	orch := &remotebootstrap.Orchestrator{
		Proxy:               proxy,
		Blocks:              blocks,
		WAL:                 walStore,
		Meta:                meta,
		Cstate:              cstore,
		Listener:            logStatusListener{},
		BeginTimeout:        beginTimeout,
		MaxChunkLength:      maxChunk,
		ThrottleBytesPerSec: float32(c.Int("throttle-bytes-per-sec")),
		Locks:               server.NewFineGrainedLock(),
		Metrics:             server.NewOpMetric("tabletboot_bootstrap", "tablet"),
		Failures:            opFailure,
	}

	if err := orch.Run(context.Background(), tabletID, localUUID); err != nil {
		return err
	}
	log.Infof("tabletboot: tablet %s bootstrapped from %s", tabletID, leaderAddr)
	return nil
}

// logStatusListener reports bootstrap progress through glog, for operators
// watching the daemon's log stream rather than a programmatic caller.
type logStatusListener struct{}

func (logStatusListener) UpdateStatus(message string) {
	log.Info(message)
}

// resolveLeaderAddr looks up service and returns its first binary-port
// address. Cluster-membership and leader-election proper are out of scope
// here; this only turns a service name into a dialable address, the same
// job service discovery does for every other service this binary talks to.
func resolveLeaderAddr(service string) (string, error) {
	rec, err := discovery.DefaultClient.Lookup(discovery.Name{Service: service})
	if err != nil {
		return "", err
	}
	addrs := rec.Addrs(discovery.Binary)
	if len(addrs) == 0 {
		return "", os.ErrNotExist
	}
	return addrs[0], nil
}
