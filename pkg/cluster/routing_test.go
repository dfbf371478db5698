package cluster

import (
	"testing"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	self := types.NewID()
	peer := types.NewID()

	cases := []struct {
		name        string
		role        Role
		home        types.ID
		leaderKnown bool
		forwarded   bool
		want        Action
	}{
		{"leader, home self", RoleLeader, self, true, false, ActionLocal},
		{"leader, home self, forwarded", RoleLeader, self, true, true, ActionLocal},
		{"leader, home peer, first hop", RoleLeader, peer, true, false, ActionForwardToHome},
		{"leader, home peer, second hop", RoleLeader, peer, true, true, ActionLocal},
		{"follower, leader known, first hop", RoleFollower, self, true, false, ActionForwardToLeader},
		{"follower, leader known, peer home, first hop", RoleFollower, peer, true, false, ActionForwardToLeader},
		{"follower, forwarded", RoleFollower, self, true, true, ActionLocal},
		{"follower, forwarded, peer home", RoleFollower, peer, true, true, ActionLocal},
		{"follower, no leader", RoleFollower, self, false, false, ActionNoLeader},
		{"candidate", RoleCandidate, self, true, false, ActionNoLeader},
		{"candidate, forwarded", RoleCandidate, self, true, true, ActionNoLeader},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.role, tc.home, self, tc.leaderKnown, tc.forwarded)
			assert.Equal(t, tc.want, got)
		})
	}
}

// A request is forwarded at most twice: once to the leader without the flag,
// once to the home with the flag, and a flagged request executes locally.
func TestDecideForwardsAtMostTwice(t *testing.T) {
	self := types.NewID()
	peer := types.NewID()

	// Leader forwards to home with the flag set; home (a follower) must
	// execute locally.
	assert.Equal(t, ActionForwardToHome, Decide(RoleLeader, peer, self, true, false))
	assert.Equal(t, ActionLocal, Decide(RoleFollower, peer, peer, true, true))

	// Follower forwards to leader without the flag; the leader either
	// executes or forwards exactly once more.
	assert.Equal(t, ActionForwardToLeader, Decide(RoleFollower, peer, self, true, false))
	assert.Equal(t, ActionForwardToHome, Decide(RoleLeader, peer, self, true, false))
}
