package ui

import (
	"context"
	"encoding/json"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dmagent/internal/game/actions"
	"dmagent/internal/game/director"
	"dmagent/internal/game/dispatch"
)

func animationTimer() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return animationTickMsg{}
	})
}

func playTurn(player Player, session Session, input string) tea.Cmd {
	return func() tea.Msg {
		resp, err := player.PlayTurn(context.Background(), director.TurnRequest{
			PlayerID:  session.PlayerID,
			SessionID: session.SessionID,
			InputText: input,
		})
		return turnCompleteMsg{input: input, resp: resp, err: err}
	}
}

func inspectCharacter(runner dispatch.Runner, session Session) tea.Cmd {
	return func() tea.Msg {
		res := runner.Run(context.Background(), actions.Request{
			Function: "get_character",
			Params:   map[string]any{"playerId": session.PlayerID, "sessionId": session.SessionID},
		})
		out, err := json.MarshalIndent(res.Body, "", "  ")
		return characterMsg{body: string(out), err: err}
	}
}
