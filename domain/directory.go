package domain

// DirectoryUser mirrors a Keycloak user representation. Only the fields this
// system consumes are modeled; unknown attributes are preserved by the
// read-merge-write update path in the directory adapter.
type DirectoryUser struct {
	ID                  string              `json:"id,omitempty"`
	Username            string              `json:"username,omitempty"`
	Email               string              `json:"email,omitempty"`
	FirstName           string              `json:"firstName,omitempty"`
	LastName            string              `json:"lastName,omitempty"`
	Enabled             bool                `json:"enabled"`
	EmailVerified       bool                `json:"emailVerified"`
	Attributes          map[string][]string `json:"attributes,omitempty"`
	Credentials         []Credential        `json:"credentials,omitempty"`
	FederatedIdentities []FederatedIdentity `json:"federatedIdentities,omitempty"`
	CreatedTimestamp    int64               `json:"createdTimestamp,omitempty"`
}

// Credential is write-only: Keycloak accepts it at creation or reset and
// never echoes the value back.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// FederatedIdentity links a directory account to a social provider's own
// user id. The JSON keys follow the Keycloak admin API.
type FederatedIdentity struct {
	Provider string `json:"identityProvider"`
	UserID   string `json:"userId"`
	Username string `json:"userName"`
}
