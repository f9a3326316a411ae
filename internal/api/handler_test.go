package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chord/internal/auth"
	"chord/internal/blob"
	"chord/internal/chat"
	"chord/internal/tree"
)

func testServer(t *testing.T) (*httptest.Server, *auth.TokenManager) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := tree.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Issuer:    "chord-test",
		TTL:       time.Hour,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	h := NewHandler(log, DefaultConfig(), chat.NewDirectory(log, store), tokens, blob.NewMemoryStore("/blobs"))
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func register(t *testing.T, srv *httptest.Server, first, last, email string) authResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/v1/auth/register", registerRequest{
		FirstName: first,
		LastName:  last,
		Email:     email,
		Password:  "correct horse battery",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	return decodeBody[authResponse](t, resp)
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)

	got := register(t, srv, "Ada", "Lovelace", "ada@example.com")
	if got.User.Name != "Ada Lovelace" {
		t.Fatalf("register name = %q", got.User.Name)
	}
	if got.AccessToken == "" {
		t.Fatal("register returned empty token")
	}

	resp := postJSON(t, srv.URL+"/v1/auth/login", loginRequest{
		Email:    "ada@example.com",
		Password: "correct horse battery",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	login := decodeBody[authResponse](t, resp)
	if login.User.Email != "ada@example.com" || login.AccessToken == "" {
		t.Fatalf("login response = %+v", login)
	}

	// Wrong password.
	resp = postJSON(t, srv.URL+"/v1/auth/login", loginRequest{
		Email:    "ada@example.com",
		Password: "not the password",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}

	// Unknown account.
	resp = postJSON(t, srv.URL+"/v1/auth/login", loginRequest{
		Email:    "ghost@example.com",
		Password: "correct horse battery",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown account status = %d", resp.StatusCode)
	}
}

func TestLoginThrottledPerIP(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := tree.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	tokens, err := auth.NewTokenManager(auth.TokenConfig{Issuer: "chord-test", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	cfg := DefaultConfig()
	cfg.AuthRateEvents = 3
	h := NewHandler(log, cfg, chat.NewDirectory(log, store), tokens, blob.NewMemoryStore("/blobs"))
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/v1/auth/login", loginRequest{
			Email:    "ada@example.com",
			Password: "guess number " + string(rune('0'+i)),
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, resp.StatusCode)
		}
	}

	resp := postJSON(t, srv.URL+"/v1/auth/login", loginRequest{
		Email:    "ada@example.com",
		Password: "one guess too many",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("throttled status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("throttled response missing Retry-After")
	}
}

func TestAuthLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	l := newAuthLimiter(2, time.Minute)
	now := time.Now()

	if !l.Allow("10.0.0.1", now) || !l.Allow("10.0.0.1", now) {
		t.Fatal("attempts within the budget must pass")
	}
	if l.Allow("10.0.0.1", now) {
		t.Fatal("attempt over the budget must be refused")
	}
	if !l.Allow("10.0.0.2", now) {
		t.Fatal("keys must be throttled independently")
	}
	if !l.Allow("10.0.0.1", now.Add(61*time.Second)) {
		t.Fatal("attempt after the window slides must pass")
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)

	cases := []struct {
		name string
		req  registerRequest
		want int
	}{
		{"missing email", registerRequest{FirstName: "A", Password: "correct horse battery"}, http.StatusBadRequest},
		{"bad email", registerRequest{FirstName: "A", Email: "not-an-email", Password: "correct horse battery"}, http.StatusBadRequest},
		{"short password", registerRequest{FirstName: "A", Email: "a@x.com", Password: "short"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := postJSON(t, srv.URL+"/v1/auth/register", tc.req)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}

	register(t, srv, "Ada", "Lovelace", "ada@example.com")
	resp := postJSON(t, srv.URL+"/v1/auth/register", registerRequest{
		FirstName: "Ada", LastName: "Again", Email: "ada@example.com", Password: "correct horse battery",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", resp.StatusCode)
	}
}

func TestUsersListAndSearch(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	ada := register(t, srv, "Ada", "Lovelace", "ada@example.com")
	register(t, srv, "Alan", "Turing", "alan@example.com")

	get := func(path string, token string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		return resp
	}

	resp := get("/v1/users", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d", resp.StatusCode)
	}

	resp = get("/v1/users", ada.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	all := decodeBody[usersResponse](t, resp)
	if len(all.Users) != 2 {
		t.Fatalf("list returned %d users", len(all.Users))
	}

	resp = get("/v1/users?q=aL", ada.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	found := decodeBody[usersResponse](t, resp)
	if len(found.Users) != 1 || found.Users[0].Name != "Alan Turing" {
		t.Fatalf("search = %+v", found.Users)
	}
}

func TestUserExists(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	register(t, srv, "Ada", "Lovelace", "ada@example.com")

	resp, err := http.Get(srv.URL + "/v1/users/exists?email=ada@example.com")
	if err != nil {
		t.Fatalf("GET exists: %v", err)
	}
	if got := decodeBody[existsResponse](t, resp); !got.Exists {
		t.Fatal("registered user reported absent")
	}

	resp, err = http.Get(srv.URL + "/v1/users/exists?email=ghost@example.com")
	if err != nil {
		t.Fatalf("GET exists: %v", err)
	}
	if got := decodeBody[existsResponse](t, resp); got.Exists {
		t.Fatal("unknown user reported present")
	}
}

func TestBlobUploadAndServe(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	ada := register(t, srv, "Ada", "Lovelace", "ada@example.com")

	key := "ada-example-com_profile_picture.png"
	upload := func(key, token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/blobs/"+key, strings.NewReader("pixels"))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST blob: %v", err)
		}
		return resp
	}

	resp := upload(key, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated upload status = %d", resp.StatusCode)
	}

	resp = upload("someone-else_profile_picture.png", ada.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign key upload status = %d", resp.StatusCode)
	}

	resp = upload(key, ada.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	up := decodeBody[blobUploadResponse](t, resp)
	if up.Key != key {
		t.Fatalf("upload key = %q", up.Key)
	}

	got, err := http.Get(srv.URL + "/blobs/" + key)
	if err != nil {
		t.Fatalf("GET blob: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("serve status = %d", got.StatusCode)
	}
	data, err := io.ReadAll(got.Body)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("blob = %q", data)
	}
}
