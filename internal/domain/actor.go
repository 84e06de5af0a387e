package domain

import "github.com/google/uuid"

// Actor identifies who performed an audited action.
type Actor struct {
	UserID *uuid.UUID
	Role   string
}

// SystemActor is used by background jobs and provider callbacks.
var SystemActor = Actor{Role: "system"}

func (a Actor) String() string {
	if a.UserID == nil {
		return a.Role
	}
	return a.Role + ":" + a.UserID.String()
}
