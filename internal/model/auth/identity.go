package auth

// Identity is the profile returned by the OAuth provider for a signed-in user.
type Identity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
