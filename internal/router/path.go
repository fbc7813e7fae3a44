// Package router runs two interchangeable implementations of one operation
// behind a rollout gate while a backend migration is in progress.
//
// A call flows strictly in order: the capability guard checks the fields the
// caller wants to change, the gate picks a path from the rollout policy and a
// stable identity bucket, the chosen implementation runs, a failure on the new
// path is classified and may fall back to the legacy implementation exactly
// once, the result is normalized by the operation's adapter, and one audit
// event is recorded.
//
// Usage:
//
//	ex := router.NewExecutor(policy, router.WithRecorder(recorder), router.WithLogger(logger))
//	out := router.Execute(ctx, ex, router.Call[GetRequest, Record]{
//	    Operation: getRecord,
//	    Routing:   router.RoutingContext{CallerID: "U123"},
//	    Request:   req,
//	    New:       router.Bind[GetRequest, StoreRecord, Record](storeImpl, adapter),
//	    Legacy:    router.Bind[GetRequest, LegacyRow, Record](legacyImpl, adapter),
//	})
//	rec, err := out.Result()
package router

import "fmt"

// Path identifies which implementation served a call.
type Path int

const (
	// LegacyPath is the established backend. It is the zero value.
	LegacyPath Path = iota
	// NewPath is the implementation being rolled out.
	NewPath
)

// String returns "legacy" or "new".
func (p Path) String() string {
	if p == NewPath {
		return "new"
	}
	return "legacy"
}

// MarshalText encodes the path by name.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes "legacy" or "new".
func (p *Path) UnmarshalText(text []byte) error {
	switch string(text) {
	case "legacy":
		*p = LegacyPath
	case "new":
		*p = NewPath
	default:
		return fmt.Errorf("router: unknown path %q", text)
	}
	return nil
}
