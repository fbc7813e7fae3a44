package router

import (
	"github.com/cespare/xxhash/v2"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
)

// AnonymousIdentity is bucketed when a call carries no caller or channel.
const AnonymousIdentity = "anonymous"

// bucketCount is the number of rollout buckets; percentages index into it.
const bucketCount = 100

// RoutingContext carries the identity a call is bucketed by. It is used for
// the duration of one call and never stored.
type RoutingContext struct {
	CallerID  string
	ChannelID string
}

// Identity returns the caller, else the channel, else AnonymousIdentity.
func (rc RoutingContext) Identity() string {
	if rc.CallerID != "" {
		return rc.CallerID
	}
	if rc.ChannelID != "" {
		return rc.ChannelID
	}
	return AnonymousIdentity
}

// Bucket maps identity into [0, 100). The hash is seed-free so every replica
// and every restart assigns the same bucket.
func Bucket(identity string) int {
	return int(xxhash.Sum64String(identity) % bucketCount)
}

// Gate picks the path for a call from the operation's rollout state.
type Gate interface {
	Decide(op Operation, rc RoutingContext, state rollout.State) Path
}

// GateFunc adapts a function to Gate.
type GateFunc func(op Operation, rc RoutingContext, state rollout.State) Path

// Decide calls f.
func (f GateFunc) Decide(op Operation, rc RoutingContext, state rollout.State) Path {
	return f(op, rc, state)
}

// BucketGate routes percentage rollouts by identity bucket.
type BucketGate struct{}

// Decide implements Gate.
func (BucketGate) Decide(_ Operation, rc RoutingContext, state rollout.State) Path {
	switch state.Mode() {
	case rollout.ModeOn:
		return NewPath
	case rollout.ModePercentage:
		if Bucket(rc.Identity()) < state.Percent() {
			return NewPath
		}
		return LegacyPath
	default:
		// Off, ForcedLegacy and anything unrecognized.
		return LegacyPath
	}
}
