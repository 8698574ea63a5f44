package models

type User struct {
	ID           int    `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // don’t expose hash
}

// SessionUser is what the session collaborator hands to the controller.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
