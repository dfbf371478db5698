package cluster

import "github.com/cuemby/virtus/pkg/types"

// Role is a node's current position in the Raft election protocol.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

// Action is the outcome of a routing decision for one mutating RPC.
type Action int

const (
	// ActionLocal executes the request against this node's host effectors.
	ActionLocal Action = iota
	// ActionForwardToLeader forwards the request to the current leader,
	// without setting the forwarded flag.
	ActionForwardToLeader
	// ActionForwardToHome forwards the request to the resource's home
	// peer, setting the forwarded flag so it is not forwarded again.
	ActionForwardToHome
	// ActionNoLeader fails the request: no leader is currently known.
	ActionNoLeader
)

// Decide picks the routing action for one mutating request. home is the
// id of the node that owns the physical host the request's side effect
// must run on; self is this node's id; leaderKnown reports whether a
// leader is currently elected (meaningful only when role is
// RoleFollower); forwarded reports whether this request already made one
// hop.
func Decide(role Role, home, self types.ID, leaderKnown, forwarded bool) Action {
	switch role {
	case RoleLeader:
		if home == self {
			return ActionLocal
		}
		if forwarded {
			return ActionLocal
		}
		return ActionForwardToHome

	case RoleFollower:
		if forwarded {
			return ActionLocal
		}
		if !leaderKnown {
			return ActionNoLeader
		}
		return ActionForwardToLeader

	default: // RoleCandidate
		return ActionNoLeader
	}
}
