package models

import "time"

// User is an API caller, keyed by the subject of its bearer token.
type User struct {
	Base       `bson:",inline"`
	Sub        string    `bson:"sub" json:"sub"`
	Issuer     string    `bson:"issuer,omitempty" json:"issuer,omitempty"`
	Email      string    `bson:"email,omitempty" json:"email,omitempty"`
	Name       string    `bson:"name,omitempty" json:"name,omitempty"`
	LastSeenAt time.Time `bson:"lastSeenAt" json:"lastSeenAt"`
}
