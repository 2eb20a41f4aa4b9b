// Package policy computes who may do what with a user's stored key data.
//
// The policy is a pure function of the target user and the calling
// principal: the user named in the request may view and edit; no-one else may
// do anything at all. There are no administrative overrides.
package policy

// Action is something a principal may be allowed to do to a record.
type Action string

const (
	View Action = "view"
	Edit Action = "edit"
)

// Grant allows Principal to perform Action.
type Grant struct {
	Principal string
	Action    Action
}

// Grants returns the allow-list for requests targeting the record of userID.
func Grants(userID string) []Grant {
	return []Grant{
		{Principal: userID, Action: View},
		{Principal: userID, Action: Edit},
	}
}

// Allowed reports whether principal may perform action on the record of
// userID. The empty principal, i.e., an unauthenticated caller, is never
// allowed anything.
func Allowed(userID, principal string, action Action) bool {
	if principal == "" {
		return false
	}
	for _, g := range Grants(userID) {
		if g.Principal == principal && g.Action == action {
			return true
		}
	}
	return false
}
