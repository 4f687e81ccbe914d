package domain

type AccessPrincipal struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

type AccessScope struct {
	ID      string   `json:"id"`
	Lineage []string `json:"lineage"`
}

type AccessInput struct {
	Principal  AccessPrincipal `json:"principal"`
	Permission string          `json:"permission"`
	Scope      AccessScope     `json:"scope"`
}

type AccessDecision struct {
	Allow      bool     `json:"allow"`
	Deny       []string `json:"deny,omitempty"`
	PolicyHash string   `json:"policy_hash,omitempty"`
}
