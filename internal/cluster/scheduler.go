// Package cluster drives a set of Nodes through the discrete, cooperative
// tick model spec §5 requires: no preemption, no internal parallelism,
// every state transition serialisable. This is the "single scheduler
// iterating nodes" option spec §9 explicitly allows as an alternative to
// real per-node threads; cmd/server's real-time tick loop and the cluster
// scenario tests use this Scheduler so cluster-wide behavior is
// deterministic given a fixed RNG seed per node.
package cluster

import (
	"ringkv/internal/address"
	"ringkv/internal/node"
	"ringkv/internal/transport"
)

// Scheduler owns a fixed set of nodes and a shared transport medium.
type Scheduler struct {
	medium transport.Medium
	nodes  []*node.Node
	tick   int64
}

// NewScheduler builds a Scheduler over medium. Nodes are added with Join.
func NewScheduler(medium transport.Medium) *Scheduler {
	return &Scheduler{medium: medium}
}

// Join registers n with the scheduler and runs its bootstrap handshake at
// the current tick.
func (s *Scheduler) Join(n *node.Node) {
	n.Bootstrap(s.tick)
	s.nodes = append(s.nodes, n)
}

// Tick advances every node by one step, then promotes this tick's sent
// messages to deliverable — so a message sent during tick t is only ever
// visible to its recipient from tick t+1 onward (spec §5 "Suspension
// points").
func (s *Scheduler) Tick() int64 {
	for _, n := range s.nodes {
		n.Tick(s.tick)
	}
	s.medium.Advance()
	s.tick++
	return s.tick - 1
}

// Run advances the cluster by n ticks.
func (s *Scheduler) Run(n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

// Now returns the tick the scheduler is about to run next.
func (s *Scheduler) Now() int64 { return s.tick }

// Nodes returns the registered nodes, in join order.
func (s *Scheduler) Nodes() []*node.Node { return s.nodes }

// NodeByAddr finds a registered node by address.
func (s *Scheduler) NodeByAddr(addr address.Address) *node.Node {
	for _, n := range s.nodes {
		if n.Addr == addr {
			return n
		}
	}
	return nil
}
