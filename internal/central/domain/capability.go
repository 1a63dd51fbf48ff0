package domain

// CapabilitySet is the authorization context for privileged operations.
// It is resolved once per request and passed explicitly; operations never
// consult ambient permission state.
type CapabilitySet struct {
	CanLock         bool
	CanOversight    bool
	CanUnmerge      bool
	CanChangeGroups bool
}

// AllowsHide reports whether the actor may set the given hidden level.
// Anything beyond "lists" needs oversight.
func (c CapabilitySet) AllowsHide(level HiddenLevel) bool {
	switch level {
	case "", HiddenNone, HiddenLists:
		return c.CanLock
	default:
		return c.CanOversight
	}
}
