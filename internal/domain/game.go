package domain

import (
	"fmt"
	"strings"
)

// Game identifies one of the supported titles.
type Game string

const (
	GameCSGO     Game = "csgo"
	GameDota2    Game = "dota2"
	GameValorant Game = "valorant"
	GameLoL      Game = "lol"
	GameWoT      Game = "wot"
	GamePUBG     Game = "pubg"
)

// Games lists every supported title in menu order.
var Games = []Game{GameCSGO, GameDota2, GameValorant, GameLoL, GameWoT, GamePUBG}

// ParseGame normalizes and validates a user-supplied game code.
func ParseGame(value string) (Game, error) {
	game := Game(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Games {
		if game == known {
			return game, nil
		}
	}

	return "", fmt.Errorf("unsupported game %q", value)
}

// Valid reports whether the game code is one of the supported titles.
func (g Game) Valid() bool {
	_, err := ParseGame(string(g))
	return err == nil
}
