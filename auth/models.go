package auth

// Credentials is the stored login record for a participant. Reputation and
// balances live on the participant itself; this row only answers "who is
// this and does the password match".
type Credentials struct {
	ParticipantID string
	Username      string
	PasswordHash  string
}

// RegisterRequest contains registration data supplied by callers.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
