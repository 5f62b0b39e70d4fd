// Package main provides a CI-friendly HTTP smoke test for the vidtube user
// API.
//
// It validates, against a running server:
//   - register with avatar upload
//   - login -> access + refresh pair
//   - authenticated /me fetch
//   - refresh rotation
//   - reuse of the rotated-away token is rejected
//   - logout invalidates the session
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Tokens tokenPair `json:"tokens"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		username = flag.String("user", fmt.Sprintf("smoke%d", time.Now().Unix()), "Username to register")
		password = flag.String("password", "smoke test password", "Password to use")
		timeout  = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if _, err := url.Parse(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &client{
		base:    *baseURL,
		http:    &http.Client{Timeout: *timeout},
		verbose: *verbose,
	}

	email := *username + "@smoke.invalid"

	step("register")
	c.register(*username, email, *password)

	step("login")
	login := c.login(*username, *password)
	if login.Tokens.AccessToken == "" || login.Tokens.RefreshToken == "" {
		fatalf("login did not return a full token pair")
	}

	step("me")
	c.me(login.Tokens.AccessToken, *username)

	step("refresh")
	rotated := c.refresh(login.Tokens.RefreshToken, http.StatusOK)
	if rotated.RefreshToken == login.Tokens.RefreshToken {
		fatalf("refresh returned the same refresh token")
	}

	step("reuse rejected")
	c.refresh(login.Tokens.RefreshToken, http.StatusUnauthorized)

	step("re-login and logout")
	relogin := c.login(*username, *password)
	c.logout(relogin.Tokens.AccessToken)
	c.refresh(relogin.Tokens.RefreshToken, http.StatusUnauthorized)

	fmt.Println("auth smoke: OK")
}

type client struct {
	base    string
	http    *http.Client
	verbose bool
}

func (c *client) register(username, email, password string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("username", username)
	_ = mw.WriteField("email", email)
	_ = mw.WriteField("fullName", "Smoke Test")
	_ = mw.WriteField("password", password)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="avatar"; filename="avatar.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		fatalf("create avatar part: %v", err)
	}
	// Smallest valid-enough payload; the server checks the declared type.
	_, _ = part.Write([]byte{0x89, 'P', 'N', 'G'})
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/v1/users/register", &buf)
	if err != nil {
		fatalf("build register request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body := c.do(req, http.StatusCreated)
	c.logf("registered: %s", body)
}

func (c *client) login(username, password string) loginResponse {
	body := c.postJSON("/api/v1/users/login",
		map[string]string{"username": username, "password": password}, "", http.StatusOK)

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		fatalf("decode login response: %v", err)
	}
	return resp
}

func (c *client) me(accessToken, wantUsername string) {
	req, err := http.NewRequest(http.MethodGet, c.base+"/api/v1/users/me", nil)
	if err != nil {
		fatalf("build me request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body := c.do(req, http.StatusOK)

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		fatalf("decode me response: %v", err)
	}
	if resp.User.Username != wantUsername {
		fatalf("me returned %q, want %q", resp.User.Username, wantUsername)
	}
}

func (c *client) refresh(refreshToken string, wantStatus int) tokenPair {
	body := c.postJSON("/api/v1/users/refresh-token",
		map[string]string{"refreshToken": refreshToken}, "", wantStatus)

	var pair tokenPair
	if wantStatus == http.StatusOK {
		if err := json.Unmarshal(body, &pair); err != nil {
			fatalf("decode refresh response: %v", err)
		}
	}
	return pair
}

func (c *client) logout(accessToken string) {
	c.postJSON("/api/v1/users/logout", nil, accessToken, http.StatusOK)
}

func (c *client) postJSON(path string, payload any, accessToken string, wantStatus int) []byte {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal %s payload: %v", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, c.base+path, body)
	if err != nil {
		fatalf("build %s request: %v", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.do(req, wantStatus)
}

func (c *client) do(req *http.Request, wantStatus int) []byte {
	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("read %s response: %v", req.URL.Path, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status %d, want %d; body: %s",
			req.Method, req.URL.Path, resp.StatusCode, wantStatus, body)
	}

	c.logf("%s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
	return body
}

func (c *client) logf(format string, args ...any) {
	if c.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func step(name string) {
	fmt.Println("step:", name)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "auth smoke: "+format+"\n", args...)
	os.Exit(1)
}
