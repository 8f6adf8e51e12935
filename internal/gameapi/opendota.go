package gameapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"game_results_bot/internal/domain"
)

const defaultOpenDotaBaseURL = "https://api.opendota.com"

// OpenDotaVerifier resolves Dota 2 account IDs through the OpenDota API, which
// needs no key.
type OpenDotaVerifier struct {
	BaseURL string
	Client  *http.Client
}

// Verify looks the numeric account ID up on the players endpoint. OpenDota
// answers 200 with an empty profile for unknown IDs.
func (v *OpenDotaVerifier) Verify(ctx context.Context, _ domain.Game, accountID, _ string) (domain.Verification, error) {
	if v == nil {
		return domain.Verification{}, fmt.Errorf("opendota verifier is not configured")
	}
	if _, err := strconv.ParseInt(accountID, 10, 64); err != nil {
		return domain.Verification{}, nil
	}

	base := v.BaseURL
	if base == "" {
		base = defaultOpenDotaBaseURL
	}

	endpoint := fmt.Sprintf("%s/api/players/%s", base, url.PathEscape(accountID))

	var payload struct {
		Profile *struct {
			AccountID   int64  `json:"account_id"`
			PersonaName string `json:"personaname"`
		} `json:"profile"`
	}

	found, err := getJSON(ctx, v.Client, endpoint, nil, &payload)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("opendota lookup: %w", err)
	}
	if !found || payload.Profile == nil {
		return domain.Verification{}, nil
	}

	return domain.Verification{
		Valid:    true,
		Nickname: payload.Profile.PersonaName,
	}, nil
}
