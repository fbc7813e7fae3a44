package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
)

// identityInBucket returns an identity whose bucket satisfies match.
func identityInBucket(t *testing.T, match func(bucket int) bool) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("user-%d", i)
		if match(Bucket(id)) {
			return id
		}
	}
	t.Fatal("no identity found for bucket predicate")
	return ""
}

func TestRoutingContext_Identity(t *testing.T) {
	assert.Equal(t, "U1", RoutingContext{CallerID: "U1", ChannelID: "C1"}.Identity())
	assert.Equal(t, "C1", RoutingContext{ChannelID: "C1"}.Identity())
	assert.Equal(t, AnonymousIdentity, RoutingContext{}.Identity())
}

func TestBucket_StableAndInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("caller-%d", i)
		b := Bucket(id)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 100)
		require.Equal(t, b, Bucket(id), "bucket must be a pure function of identity")
	}
}

func TestBucket_Spread(t *testing.T) {
	const n = 10000
	below := 0
	for i := 0; i < n; i++ {
		if Bucket(fmt.Sprintf("spread-%d", i)) < 30 {
			below++
		}
	}
	// Loose bounds: the hash only needs to be roughly uniform.
	assert.InDelta(t, 0.30, float64(below)/n, 0.05)
}

func TestBucketGate_Modes(t *testing.T) {
	gate := BucketGate{}
	op := Operation{Name: "getRecord"}
	rc := RoutingContext{CallerID: "U42"}

	tests := []struct {
		name  string
		state rollout.State
		want  Path
	}{
		{"off", rollout.Off(), LegacyPath},
		{"on", rollout.On(), NewPath},
		{"forced legacy", rollout.ForcedLegacy(), LegacyPath},
		{"zero percent", rollout.Percentage(0), LegacyPath},
		{"hundred percent", rollout.Percentage(100), NewPath},
		{"zero value state", rollout.State{}, LegacyPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Decide(op, rc, tt.state))
		})
	}
}

func TestBucketGate_PercentageUsesBucket(t *testing.T) {
	gate := BucketGate{}
	op := Operation{Name: "getRecord"}

	inside := identityInBucket(t, func(b int) bool { return b < 30 })
	outside := identityInBucket(t, func(b int) bool { return b >= 30 })

	assert.Equal(t, NewPath, gate.Decide(op, RoutingContext{CallerID: inside}, rollout.Percentage(30)))
	assert.Equal(t, LegacyPath, gate.Decide(op, RoutingContext{CallerID: outside}, rollout.Percentage(30)))
}

func TestBucketGate_ChannelFallbackIdentity(t *testing.T) {
	gate := BucketGate{}
	op := Operation{Name: "searchRecords"}
	channel := identityInBucket(t, func(b int) bool { return b < 50 })

	assert.Equal(t, NewPath, gate.Decide(op, RoutingContext{ChannelID: channel}, rollout.Percentage(50)))
	assert.Equal(t,
		gate.Decide(op, RoutingContext{}, rollout.Percentage(50)),
		gate.Decide(op, RoutingContext{CallerID: AnonymousIdentity}, rollout.Percentage(50)),
		"missing identity buckets as anonymous")
}

func TestBucketGate_Deterministic(t *testing.T) {
	gate := BucketGate{}
	op := Operation{Name: "updateRecord", Mutates: true}
	state := rollout.Percentage(37)

	for i := 0; i < 200; i++ {
		rc := RoutingContext{CallerID: fmt.Sprintf("U%d", i), ChannelID: fmt.Sprintf("C%d", i)}
		first := gate.Decide(op, rc, state)
		for j := 0; j < 5; j++ {
			require.Equal(t, first, gate.Decide(op, rc, state))
		}
		// A fresh gate value (as after a restart) decides identically.
		require.Equal(t, first, BucketGate{}.Decide(op, rc, state))
	}
}

func TestBucketGate_Monotonic(t *testing.T) {
	gate := BucketGate{}
	op := Operation{Name: "getRecord"}

	for i := 0; i < 300; i++ {
		rc := RoutingContext{CallerID: fmt.Sprintf("mono-%d", i)}
		routedNew := false
		for p := 0; p <= 100; p++ {
			path := gate.Decide(op, rc, rollout.Percentage(p))
			if routedNew {
				require.Equal(t, NewPath, path, "identity %s flipped back to legacy at %d%%", rc.CallerID, p)
			}
			if path == NewPath {
				routedNew = true
			}
		}
		require.True(t, routedNew, "every identity is new at 100%%")
	}
}

func TestPath_Text(t *testing.T) {
	for _, p := range []Path{LegacyPath, NewPath} {
		text, err := p.MarshalText()
		require.NoError(t, err)
		var decoded Path
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, p, decoded)
	}
	var p Path
	assert.Error(t, p.UnmarshalText([]byte("sideways")))
}
