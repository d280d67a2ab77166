package domain

import "time"

// User is the profile document mirrored from the identity provider.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is the verified identity attached to a request.
type Principal struct {
	UID     string `json:"uid"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	// Claims holds the full decoded token payload.
	Claims map[string]any `json:"-"`
}

// NewIdentity carries the fields needed to create an identity provider user.
type NewIdentity struct {
	Email       string
	Password    string
	DisplayName string
}

// IdentityRecord is the identity provider's view of a created user.
type IdentityRecord struct {
	UID         string
	Email       string
	DisplayName string
}
