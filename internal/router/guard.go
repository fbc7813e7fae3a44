package router

import "sort"

// Guard decides whether a call may reach the new path at all.
type Guard interface {
	IsEligibleForNewPath(op Operation, requested FieldSet) bool
}

// CapabilityGuard checks requested fields against the operation's capability set.
// A call touching any field the new implementation does not support goes to
// the legacy implementation whole; fields are never dropped.
type CapabilityGuard struct{}

// IsEligibleForNewPath implements Guard.
func (CapabilityGuard) IsEligibleForNewPath(op Operation, requested FieldSet) bool {
	if !op.Restricted() {
		return true
	}
	for name := range requested {
		if !op.SupportedFieldsNew.Has(name) {
			return false
		}
	}
	return true
}

// Unsupported returns the requested fields the new implementation cannot handle, sorted.
func (CapabilityGuard) Unsupported(op Operation, requested FieldSet) []string {
	if !op.Restricted() {
		return nil
	}
	var missing []string
	for name := range requested {
		if !op.SupportedFieldsNew.Has(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
