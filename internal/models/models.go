package models

import "time"

// OwnerNone marks an application without an owning user.
const OwnerNone int64 = -1

// PermissionAuthentication gates the device-authentication nonce flow.
const PermissionAuthentication = "authentication"

// ApplicationStatistics are usage counters kept on the application record.
type ApplicationStatistics struct {
	AuthenticationCount int64 `json:"authentication_count"`
	RequestCount        int64 `json:"request_count"`
}

// Application is a registered third-party client.
type Application struct {
	ApplicationID     int64                 `json:"application_id"`
	Title             string                `json:"title"`
	Description       string                `json:"description"`
	Website           string                `json:"website"`
	CallbackURL       string                `json:"callback_url"`
	UserID            int64                 `json:"user"`
	Created           time.Time             `json:"created"`
	ApplicationKey    string                `json:"application_key"`
	ApplicationSecret string                `json:"application_secret"`
	Status            int                   `json:"status"`
	Permissions       []string              `json:"permissions"`
	Statistics        ApplicationStatistics `json:"statistics"`

	// Owner is the resolved public profile of UserID, populated only when a
	// lookup requested it.
	Owner *PublicUserProfile `json:"owner,omitempty"`
}

// HasPermission reports whether the application carries the named permission.
func (a *Application) HasPermission(name string) bool {
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// OAuthGrant is the durable delegated-access record for one
// (application, user) pair.
type OAuthGrant struct {
	ApplicationID int64     `json:"application_id"`
	UserID        int64     `json:"userid"`
	AccessToken   string    `json:"access_token"`
	AccessSecret  string    `json:"access_secret"`
	Created       time.Time `json:"created"`
}

// RequestToken is the ephemeral first leg of the token exchange.
type RequestToken struct {
	Token         string    `json:"request_token"`
	ApplicationID int64     `json:"application_id"`
	Created       time.Time `json:"created"`
	Expiration    time.Time `json:"expiration"`
}

// AccessBearer is the ephemeral second leg, binding a request token to an
// authenticated user.
type AccessBearer struct {
	Bearer        string    `json:"access_bearer"`
	RequestToken  string    `json:"request_token"`
	UserID        int64     `json:"userid"`
	ApplicationID int64     `json:"application_id"`
	Created       time.Time `json:"created"`
	Expiration    time.Time `json:"expiration"`
}

// NonceState is the state of an authentication nonce. A nonce starts in
// NonceStateGenerated; every other state is terminal.
type NonceState string

const (
	NonceStateGenerated NonceState = "generated"
	NonceStateUsed      NonceState = "used"
	NonceStateDeclined  NonceState = "declined"
)

// AuthenticationNonce drives the device-pairing authentication flow.
type AuthenticationNonce struct {
	Nonce         string            `json:"authentication_nonce"`
	ApplicationID int64             `json:"application_id"`
	Created       time.Time         `json:"created"`
	Expiration    time.Time         `json:"expiration"`
	State         NonceState        `json:"state"`
	Type          string            `json:"type,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// PublicUserProfile is the subset of an account this service is allowed to
// expose. Accounts themselves are managed elsewhere; this service only reads.
type PublicUserProfile struct {
	UserID      int64     `json:"userid"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Created     time.Time `json:"created"`
}
