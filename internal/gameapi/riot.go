package gameapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"game_results_bot/internal/domain"
)

const defaultRiotRouting = "europe"

// RiotVerifier resolves Riot IDs of the form "GameName#TAG" through the Riot
// account API. It backs both Valorant and League of Legends linking; the
// region parameter selects the routing cluster (americas, asia, europe).
type RiotVerifier struct {
	// BaseURL overrides the https://<routing>.api.riotgames.com scheme, mainly
	// for tests. When set, the routing cluster is ignored.
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Verify looks the Riot ID up on the account-v1 endpoint.
func (v *RiotVerifier) Verify(ctx context.Context, _ domain.Game, accountID, region string) (domain.Verification, error) {
	if v == nil || v.APIKey == "" {
		return domain.Verification{}, fmt.Errorf("riot verifier is not configured")
	}

	name, tag, ok := strings.Cut(accountID, "#")
	name = strings.TrimSpace(name)
	tag = strings.TrimSpace(tag)
	if !ok || name == "" || tag == "" {
		return domain.Verification{}, nil
	}

	base := v.BaseURL
	if base == "" {
		routing := strings.ToLower(strings.TrimSpace(region))
		if routing == "" {
			routing = defaultRiotRouting
		}
		base = fmt.Sprintf("https://%s.api.riotgames.com", routing)
	}

	endpoint := fmt.Sprintf("%s/riot/account/v1/accounts/by-riot-id/%s/%s",
		base, url.PathEscape(name), url.PathEscape(tag))

	var payload struct {
		PUUID    string `json:"puuid"`
		GameName string `json:"gameName"`
		TagLine  string `json:"tagLine"`
	}

	header := http.Header{"X-Riot-Token": []string{v.APIKey}}
	found, err := getJSON(ctx, v.Client, endpoint, header, &payload)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("riot lookup: %w", err)
	}
	if !found || payload.PUUID == "" {
		return domain.Verification{}, nil
	}

	return domain.Verification{
		Valid:    true,
		Nickname: payload.GameName + "#" + payload.TagLine,
	}, nil
}
