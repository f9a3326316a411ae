package api

import "time"

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type authResponse struct {
	User           userResponse `json:"user"`
	AccessToken    string       `json:"access_token"`
	TokenExpiresAt time.Time    `json:"token_expires_at"`
}

type usersResponse struct {
	Users []userResponse `json:"users"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type blobUploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
