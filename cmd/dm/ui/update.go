package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

const loadingMarker = "LOADING_ANIMATION"

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case turnCompleteMsg:
		return m.handleTurnComplete(msg)
	case characterMsg:
		return m.handleCharacter(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case animationTickMsg:
		if m.loading {
			m.animationFrame++
			return m, animationTimer()
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}
	return m, nil
}

func (m Model) handleTurnComplete(msg turnCompleteMsg) (tea.Model, tea.Cmd) {
	m = m.stopLoading()
	if msg.err != nil {
		m.messages = append(m.messages, fmt.Sprintf("Error: %v", msg.err), "")
		m.history.AddError(msg.err)
		m.debug.Printf("turn failed: %v", msg.err)
		return m, nil
	}

	if m.debug.IsEnabled() {
		for _, call := range msg.resp.ToolCalls {
			m.messages = append(m.messages, fmt.Sprintf("[DEBUG] tool %s %v", call.Name, call.Params))
		}
		m.messages = append(m.messages, fmt.Sprintf("[DEBUG] %d model calls, phases %v", msg.resp.ModelCalls, msg.resp.Phases))
	}
	m.messages = append(m.messages, msg.resp.Reply, "")
	m.history.AddReply(msg.resp.Reply)
	return m, nil
}

func (m Model) handleCharacter(msg characterMsg) (tea.Model, tea.Cmd) {
	m = m.stopLoading()
	if msg.err != nil {
		m.messages = append(m.messages, fmt.Sprintf("Error: %v", msg.err), "")
		return m, nil
	}
	m.messages = append(m.messages, strings.Split(msg.body, "\n")...)
	m.messages = append(m.messages, "")
	return m, nil
}

func (m Model) stopLoading() Model {
	if m.loading && len(m.messages) > 0 && m.messages[len(m.messages)-1] == loadingMarker {
		m.messages = m.messages[:len(m.messages)-1]
	}
	m.loading = false
	return m
}

func (m Model) startLoading() Model {
	m.loading = true
	m.animationFrame = 0
	m.messages = append(m.messages, loadingMarker)
	return m
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		input := strings.TrimSpace(m.input)
		if input == "" || m.loading {
			return m, nil
		}
		m.input = ""

		switch input {
		case "/quit":
			return m, tea.Quit
		case "/help":
			m.messages = append(m.messages,
				"Type what your character does and press enter.",
				"/character shows the saved character and world log, /quit exits.",
				"")
			return m, nil
		case "/character":
			if m.actions == nil {
				return m, nil
			}
			m = m.startLoading()
			return m, tea.Batch(inspectCharacter(m.actions, m.session), animationTimer())
		}

		m.messages = append(m.messages, "> "+input, "")
		m.history.AddPlayerInput(input)
		m = m.startLoading()
		return m, tea.Batch(playTurn(m.player, m.session, input), animationTimer())

	case "backspace":
		if len(m.input) > 0 && !m.loading {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
		return m, nil

	case " ":
		if !m.loading {
			m.input += " "
		}
		return m, nil

	default:
		if msg.Type == tea.KeyRunes && !m.loading {
			m.input += string(msg.Runes)
		}
		return m, nil
	}
}
