// Package gameapi verifies external game accounts against the public APIs of
// each supported title before they may be linked.
package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"game_results_bot/internal/domain"
)

// ErrUnavailable indicates the upstream API could not answer; the account may
// still be valid and the caller should retry later.
var ErrUnavailable = errors.New("game api unavailable")

// Verifier checks that an external game account exists.
type Verifier interface {
	Verify(ctx context.Context, game domain.Game, accountID, region string) (domain.Verification, error)
}

// Registry dispatches verification to the per-title verifier.
type Registry struct {
	verifiers map[domain.Game]Verifier
}

// NewRegistry builds a Registry over the provided per-title verifiers. Titles
// without a verifier are rejected at verification time.
func NewRegistry(verifiers map[domain.Game]Verifier) *Registry {
	return &Registry{verifiers: verifiers}
}

// Verify routes the check to the verifier registered for the game.
func (r *Registry) Verify(ctx context.Context, game domain.Game, accountID, region string) (domain.Verification, error) {
	if r == nil || len(r.verifiers) == 0 {
		return domain.Verification{}, errors.New("verifier registry is not initialized")
	}

	verifier, ok := r.verifiers[game]
	if !ok {
		return domain.Verification{}, fmt.Errorf("no verifier for game %q", game)
	}

	return verifier.Verify(ctx, game, accountID, region)
}

// Games lists the titles the registry can verify.
func (r *Registry) Games() []domain.Game {
	if r == nil {
		return nil
	}

	games := make([]domain.Game, 0, len(r.verifiers))
	for _, game := range domain.Games {
		if _, ok := r.verifiers[game]; ok {
			games = append(games, game)
		}
	}

	return games
}

// Credentials carries the upstream API keys for the default registry.
type Credentials struct {
	SteamAPIKey      string
	RiotAPIKey       string
	WotApplicationID string
	PubgAPIKey       string
}

// NewDefaultRegistry wires the stock verifier per title. Titles whose
// credentials are missing are left out, except Dota 2 which needs none.
func NewDefaultRegistry(creds Credentials) *Registry {
	verifiers := map[domain.Game]Verifier{
		domain.GameDota2: &OpenDotaVerifier{},
	}

	if creds.SteamAPIKey != "" {
		verifiers[domain.GameCSGO] = &SteamVerifier{APIKey: creds.SteamAPIKey}
	}
	if creds.RiotAPIKey != "" {
		riot := &RiotVerifier{APIKey: creds.RiotAPIKey}
		verifiers[domain.GameValorant] = riot
		verifiers[domain.GameLoL] = riot
	}
	if creds.WotApplicationID != "" {
		verifiers[domain.GameWoT] = &WargamingVerifier{ApplicationID: creds.WotApplicationID}
	}
	if creds.PubgAPIKey != "" {
		verifiers[domain.GamePUBG] = &PUBGVerifier{APIKey: creds.PubgAPIKey}
	}

	return NewRegistry(verifiers)
}

// defaultHTTPClient bounds every upstream call.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// getJSON performs a GET and decodes the body into out. A 404 reports
// found=false; timeouts, 429, and 5xx map to ErrUnavailable.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out interface{}) (found bool, err error) {
	if client == nil {
		client = defaultHTTPClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}

	return true, nil
}
