// Package flow implements the OAuth flow state management: single-use
// CSRF state tokens bound to a user/org pair and the single-use handoff
// of exchanged credentials, both held in the ephemeral store.
package flow

import "fmt"

// keyNamespace prefixes every store key this package writes.
const keyNamespace = "hubspot"

// Identity scopes one in-flight authorization attempt. It is never
// persisted on its own; it only derives store keys. A user starting a
// second flow for the same org overwrites the first one's pending state.
type Identity struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
}

func (id Identity) Valid() bool {
	return id.UserID != "" && id.OrgID != ""
}

func (id Identity) String() string {
	return id.UserID + ":" + id.OrgID
}

// StateKey is where the pending state token for this identity lives.
func (id Identity) StateKey() string {
	return fmt.Sprintf("%s:state:%s:%s", keyNamespace, id.UserID, id.OrgID)
}

// CredentialKey is where the exchanged credential for this identity lives.
func (id Identity) CredentialKey() string {
	return fmt.Sprintf("%s:cred:%s:%s", keyNamespace, id.UserID, id.OrgID)
}
