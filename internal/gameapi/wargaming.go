package gameapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"game_results_bot/internal/domain"
)

const defaultWargamingBaseURL = "https://api.worldoftanks.eu"

// WargamingVerifier resolves World of Tanks nicknames through the Wargaming
// account API.
type WargamingVerifier struct {
	BaseURL       string
	ApplicationID string
	Client        *http.Client
}

// Verify searches for an exact nickname match.
func (v *WargamingVerifier) Verify(ctx context.Context, _ domain.Game, accountID, _ string) (domain.Verification, error) {
	if v == nil || v.ApplicationID == "" {
		return domain.Verification{}, fmt.Errorf("wargaming verifier is not configured")
	}
	nickname := strings.TrimSpace(accountID)
	if nickname == "" {
		return domain.Verification{}, nil
	}

	base := v.BaseURL
	if base == "" {
		base = defaultWargamingBaseURL
	}

	endpoint := fmt.Sprintf("%s/wot/account/list/?application_id=%s&search=%s&type=exact",
		base, url.QueryEscape(v.ApplicationID), url.QueryEscape(nickname))

	var payload struct {
		Status string `json:"status"`
		Data   []struct {
			AccountID int64  `json:"account_id"`
			Nickname  string `json:"nickname"`
		} `json:"data"`
	}

	found, err := getJSON(ctx, v.Client, endpoint, nil, &payload)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("wargaming lookup: %w", err)
	}
	if !found || payload.Status != "ok" || len(payload.Data) == 0 {
		return domain.Verification{}, nil
	}

	return domain.Verification{
		Valid:    true,
		Nickname: payload.Data[0].Nickname,
	}, nil
}
