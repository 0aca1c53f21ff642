package machine

import (
	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// OTKReplenishDivisor sets the replenish threshold: keys are shared once the
// server holds fewer than MaxOneTimeKeys/OTKReplenishDivisor.
const OTKReplenishDivisor = 2

// MembershipTransition is a (previous, new) membership pair.
type MembershipTransition struct {
	From, To domain.Membership
}

// IgnoredMembershipTransitions never invalidate an outbound group session.
var IgnoredMembershipTransitions = map[MembershipTransition]bool{
	{From: types.MembershipInvite, To: types.MembershipJoin}: true,
	{From: types.MembershipBan, To: types.MembershipLeave}:   true,
	{From: types.MembershipLeave, To: types.MembershipBan}:   true,
}

// invalidates reports whether moving from prev to cur may change who can
// decrypt the room's future messages.
func invalidates(prev, cur domain.Membership) bool {
	if prev == cur {
		return false
	}
	return !IgnoredMembershipTransitions[MembershipTransition{From: prev, To: cur}]
}

// belowReplenishThreshold reports whether count warrants a key upload for
// a pool of limit keys.
func belowReplenishThreshold(count, limit int) bool {
	return count < limit/OTKReplenishDivisor
}
