// Package session maintains the Redis session registry: one JSON record per
// device session, a per-user index for enumeration, a recency index for
// ordered listing, and a bidirectional session/JTI linkage that lets a
// session revocation invalidate every refresh token it ever issued.
package session

import "encoding/json"

// Session is one authenticated device session. Timestamps are Unix seconds.
// Roles is the role set captured at login; rotated access tokens are re-issued
// from it so a refresh never narrows what the holder could already do.
type Session struct {
	ID         string   `json:"id"`
	UserID     string   `json:"userId"`
	Roles      []string `json:"roles,omitempty"`
	IP         string   `json:"ip,omitempty"`
	UserAgent  string   `json:"userAgent,omitempty"`
	Device     string   `json:"device,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
	LastUsedAt int64    `json:"lastUsedAt"`
}

func encode(sess *Session) ([]byte, error) {
	return json.Marshal(sess)
}

func decode(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
