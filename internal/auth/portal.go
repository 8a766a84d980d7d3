package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// KeystoneUser identifies the owner of a token.
type KeystoneUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PortalUserResolver looks tokens up against the SciServer login portal.
type PortalUserResolver struct {
	BaseURL    string
	HTTPClient *http.Client
	TaskName   string
}

// KeystoneUser fetches <BaseURL>/<token> and reads token.user from the reply.
func (r *PortalUserResolver) KeystoneUser(ctx context.Context, token string) (KeystoneUser, error) {
	url := strings.TrimRight(r.BaseURL, "/") + "/" + token
	if r.TaskName != "" {
		url += "?TaskName=" + r.TaskName
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return KeystoneUser{}, fmt.Errorf("build request: %w", err)
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return KeystoneUser{}, fmt.Errorf("validate token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return KeystoneUser{}, fmt.Errorf("read portal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return KeystoneUser{}, fmt.Errorf("validate token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Token struct {
			User KeystoneUser `json:"user"`
		} `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return KeystoneUser{}, fmt.Errorf("decode portal response: %w", err)
	}
	if payload.Token.User.ID == "" {
		return KeystoneUser{}, fmt.Errorf("portal response has no user id")
	}
	return payload.Token.User, nil
}
