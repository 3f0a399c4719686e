// Package session persists refresh-token records and their families in Redis
// and implements every state transition as a server-side compare-and-set, so
// two concurrent attempts to consume the same token can never both win.
package session

// Record is one refresh-token row. The raw token never appears here; records
// are keyed by the SHA-256 of the token. All rows created from a single login
// share a FamilyID, and revoking the family ends every session derived from
// that login.
type Record struct {
	UserID     string
	FamilyID   string
	ExpiresAt  int64
	CreatedAt  int64
	RevokedAt  int64
	Revoked    bool
	DeviceInfo string
	IP         string
}

// Expired reports whether the record is past its expiry at the given unix
// time. Expiry invalidates a token regardless of the revoked flag.
func (r *Record) Expired(nowUnix int64) bool {
	return r.ExpiresAt <= nowUnix
}
