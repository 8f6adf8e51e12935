package gameapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"game_results_bot/internal/domain"
)

const defaultSteamBaseURL = "https://api.steampowered.com"

var steamIDPattern = regexp.MustCompile(`^7656119\d{10}$`)

// SteamVerifier resolves SteamID64 values through the Steam Web API. It backs
// Counter-Strike account linking.
type SteamVerifier struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Verify looks the SteamID up via GetPlayerSummaries.
func (v *SteamVerifier) Verify(ctx context.Context, _ domain.Game, accountID, _ string) (domain.Verification, error) {
	if v == nil || v.APIKey == "" {
		return domain.Verification{}, fmt.Errorf("steam verifier is not configured")
	}
	if !steamIDPattern.MatchString(accountID) {
		return domain.Verification{}, nil
	}

	base := v.BaseURL
	if base == "" {
		base = defaultSteamBaseURL
	}

	endpoint := fmt.Sprintf("%s/ISteamUser/GetPlayerSummaries/v2/?key=%s&steamids=%s",
		base, url.QueryEscape(v.APIKey), url.QueryEscape(accountID))

	var payload struct {
		Response struct {
			Players []struct {
				SteamID     string `json:"steamid"`
				PersonaName string `json:"personaname"`
			} `json:"players"`
		} `json:"response"`
	}

	found, err := getJSON(ctx, v.Client, endpoint, nil, &payload)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("steam lookup: %w", err)
	}
	if !found || len(payload.Response.Players) == 0 {
		return domain.Verification{}, nil
	}

	return domain.Verification{
		Valid:    true,
		Nickname: payload.Response.Players[0].PersonaName,
	}, nil
}
