package service

// Auth reports who is signed in. Sign-in itself happens elsewhere.
type Auth interface {
	CurrentUserID() string
	CurrentUserEmail() string
	IsAuthenticated() bool
}

// StaticAuth is a fixed identity, typically read from config.
type StaticAuth struct {
	UserID string
	Email  string
}

func (a StaticAuth) CurrentUserID() string    { return a.UserID }
func (a StaticAuth) CurrentUserEmail() string { return a.Email }
func (a StaticAuth) IsAuthenticated() bool    { return a.UserID != "" }
