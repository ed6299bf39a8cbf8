// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// RaftPeer describes one member of a tablet's consensus configuration as
// known at the time a ConsensusSnapshot was taken.
type RaftPeer struct {
	// PermanentUUID identifies the peer for the lifetime of the replica,
	// independent of its network address.
	PermanentUUID PeerUUID

	// LastKnownAddress is the host (or host:port) this peer was last
	// reachable at. It may be stale; resolving it to a live connection is
	// the caller's responsibility.
	LastKnownAddress string
}

// RaftConfig is the list of peers in a tablet's consensus configuration at a
// point in time.
type RaftConfig struct {
	Peers []RaftPeer
}

// ConsensusSnapshot is an immutable view of a tablet's replication
// configuration and leader at a point in time, handed to the bootstrap
// orchestrator by its caller. The cluster-membership machinery that produces
// this snapshot is an external collaborator, out of scope for this package.
type ConsensusSnapshot struct {
	Config      RaftConfig
	LeaderUUID  PeerUUID // empty if no leader is currently known
	CurrentTerm uint64
}

// FindLeader returns the peer matching the snapshot's LeaderUUID, and true
// if one was found. It fails (ok=false) if LeaderUUID is empty or does not
// match any configured peer.
func (c ConsensusSnapshot) FindLeader() (peer RaftPeer, ok bool) {
	if len(c.LeaderUUID) == 0 {
		return RaftPeer{}, false
	}
	for _, p := range c.Config.Peers {
		if p.PermanentUUID == c.LeaderUUID {
			return p, true
		}
	}
	return RaftPeer{}, false
}

// ConsensusMetadata is the durable consensus-metadata record a bootstrap
// writes for a tablet before the superblock swap, so that the tablet's
// consensus state is in place the instant it becomes live.
type ConsensusMetadata struct {
	TabletID  TabletID
	LocalUUID PeerUUID
	Config    RaftConfig
	Term      uint64
}
