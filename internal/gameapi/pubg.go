package gameapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"game_results_bot/internal/domain"
)

const defaultPUBGBaseURL = "https://api.pubg.com"

// PUBGVerifier resolves PUBG player names through the official PUBG API on the
// steam shard.
type PUBGVerifier struct {
	BaseURL string
	APIKey  string
	Shard   string
	Client  *http.Client
}

// Verify looks the player name up on the players endpoint.
func (v *PUBGVerifier) Verify(ctx context.Context, _ domain.Game, accountID, _ string) (domain.Verification, error) {
	if v == nil || v.APIKey == "" {
		return domain.Verification{}, fmt.Errorf("pubg verifier is not configured")
	}
	name := strings.TrimSpace(accountID)
	if name == "" {
		return domain.Verification{}, nil
	}

	base := v.BaseURL
	if base == "" {
		base = defaultPUBGBaseURL
	}
	shard := v.Shard
	if shard == "" {
		shard = "steam"
	}

	endpoint := fmt.Sprintf("%s/shards/%s/players?filter[playerNames]=%s",
		base, url.PathEscape(shard), url.QueryEscape(name))

	var payload struct {
		Data []struct {
			ID         string `json:"id"`
			Attributes struct {
				Name string `json:"name"`
			} `json:"attributes"`
		} `json:"data"`
	}

	header := http.Header{
		"Authorization": []string{"Bearer " + v.APIKey},
		"Accept":        []string{"application/vnd.api+json"},
	}
	found, err := getJSON(ctx, v.Client, endpoint, header, &payload)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("pubg lookup: %w", err)
	}
	if !found || len(payload.Data) == 0 {
		return domain.Verification{}, nil
	}

	return domain.Verification{
		Valid:    true,
		Nickname: payload.Data[0].Attributes.Name,
	}, nil
}
