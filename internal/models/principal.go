package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal is the caller identified by an access token
type Principal struct {
	UserID uuid.UUID
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}
