package model

// User is an account that logs in with a password and a TOTP code.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	PasswordHash string `json:"-"`
	TOTPSecret   string `json:"-"`
}
