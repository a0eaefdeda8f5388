package authapi

import "mcadmin/cmd/internal/auth/session"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Next     string `json:"next,omitempty"`
}

type sessionResponse struct {
	Session session.View `json:"session"`
}

type loginViewResponse struct {
	View    string       `json:"view"`
	Next    string       `json:"next"`
	Session session.View `json:"session"`
}
