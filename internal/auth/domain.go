package auth

// Credentials is the part of a user account needed to check a login.
type Credentials struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
}

// Login is the outcome of a successful sign-in.
type Login struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Redirect string `json:"redirect"`
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
