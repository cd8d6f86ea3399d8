package metadata

// User is a security principal.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// SecurityCatalog holds principals and the expected TLS credential hash that every
// storage node must have installed.
type SecurityCatalog struct {
	Seq               uint64           `json:"seq"`
	Users             map[string]*User `json:"users"`
	CredentialHash    string           `json:"credentialHash,omitempty"`
	CredentialVersion int              `json:"credentialVersion"`
}

// NewSecurityCatalog returns an empty security catalog.
func NewSecurityCatalog() *SecurityCatalog {
	return &SecurityCatalog{Users: make(map[string]*User)}
}

func (c *SecurityCatalog) Kind() Kind             { return KindSecurity }
func (c *SecurityCatalog) Sequence() uint64       { return c.Seq }
func (c *SecurityCatalog) setSequence(seq uint64) { c.Seq = seq }

// User looks up a principal by name.
func (c *SecurityCatalog) User(name string) *User {
	return c.Users[nameKey(name)]
}

// PutUser adds or replaces a principal.
func (c *SecurityCatalog) PutUser(u *User) {
	c.Users[nameKey(u.Name)] = u
}
