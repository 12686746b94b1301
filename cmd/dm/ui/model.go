package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"dmagent/internal/debug"
	"dmagent/internal/game"
	"dmagent/internal/game/director"
	"dmagent/internal/game/dispatch"
)

// Player runs one turn.
type Player interface {
	PlayTurn(ctx context.Context, req director.TurnRequest) (director.TurnResponse, error)
}

type Session struct {
	PlayerID  string
	SessionID string
	// Previous exchanges of a resumed session.
	Previous []game.Exchange
}

type Model struct {
	messages       []string
	input          string
	width          int
	height         int
	player         Player
	actions        dispatch.Runner
	session        Session
	debug          *debug.Logger
	loading        bool
	animationFrame int
	history        *game.History
}

func NewModel(player Player, actions dispatch.Runner, session Session, debug *debug.Logger) Model {
	messages := []string{}
	for _, ex := range session.Previous {
		messages = append(messages, "> "+ex.User, ex.DM, "")
	}
	if debug.IsEnabled() {
		messages = append(messages,
			fmt.Sprintf("[DEBUG] player %s, session %s", session.PlayerID, session.SessionID),
			"[DEBUG] Commands: /character, /help",
			"")
	}

	return Model{
		messages: messages,
		player:   player,
		actions:  actions,
		session:  session,
		debug:    debug,
		history:  game.NewHistory(6),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

type animationTickMsg struct{}

type turnCompleteMsg struct {
	input string
	resp  director.TurnResponse
	err   error
}

type characterMsg struct {
	body string
	err  error
}
