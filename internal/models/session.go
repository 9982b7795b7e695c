package models

import "time"

// Session represents a persistent refresh session
type Session struct {
	Base         `bson:",inline"`
	RefreshToken string    `bson:"refreshToken" json:"refreshToken"`
	Sub          string    `bson:"sub" json:"sub"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
}
