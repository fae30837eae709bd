package model

import "time"

// User is a registered community member. PasswordHash and TOTPSecret never
// leave the server; both carry json:"-" so a marshalled user is always safe
// to return.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TOTPSecret   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TOTPEnabled reports whether the user has finished 2FA enrollment.
func (u *User) TOTPEnabled() bool {
	return u.TOTPSecret != ""
}
