package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	inputHeight := 3
	chatHeight := m.height - inputHeight
	rightWidth := m.width

	messageStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("7"))

	userStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9"))

	debugStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	loadingStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("6"))

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Width(m.width - 4)

	chatPanel := lipgloss.NewStyle().
		Width(rightWidth).
		Height(chatHeight).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1)

	contentWidth := rightWidth - 4

	var lines []string
	for _, message := range m.messages {
		switch {
		case message == "":
			lines = append(lines, "")
		case message == loadingMarker:
			lines = append(lines, loadingStyle.Render(wrapAndIndent(getLoadingAnimation(m.animationFrame), contentWidth, " ")))
		case strings.HasPrefix(message, "> "):
			lines = append(lines, userStyle.Render(wrapAndIndent(message, contentWidth, " ")))
		case strings.HasPrefix(message, "[DEBUG] "):
			lines = append(lines, debugStyle.Render(wrapAndIndent(message, contentWidth, " ")))
		case strings.HasPrefix(message, "Error: "):
			lines = append(lines, errorStyle.Render(wrapAndIndent(message, contentWidth, " ")))
		default:
			lines = append(lines, messageStyle.Render(wrapAndIndent(message, contentWidth, " ")))
		}
	}

	maxLines := chatHeight - 2
	if maxLines < 1 {
		maxLines = 1
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	var chatContent strings.Builder
	for i := len(lines); i < maxLines; i++ {
		chatContent.WriteString("\n")
	}
	chatContent.WriteString(strings.Join(lines, "\n"))

	chat := chatPanel.Render(chatContent.String())
	input := inputStyle.Render(m.input + "│")

	return chat + "\n" + input
}

// wrapAndIndent wraps text on word boundaries to width, indenting every line.
func wrapAndIndent(text string, width int, indent string) string {
	var out []string
	for _, paragraph := range strings.Split(text, "\n") {
		out = append(out, wrapLine(paragraph, width, indent))
	}
	return strings.Join(out, "\n")
}

func wrapLine(text string, width int, indent string) string {
	if len(indent)+len(text) <= width {
		return indent + text
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return indent + text
	}

	var result strings.Builder
	currentLine := indent + words[0]
	for _, word := range words[1:] {
		if len(currentLine)+1+len(word) <= width {
			currentLine += " " + word
		} else {
			result.WriteString(currentLine + "\n")
			currentLine = indent + word
		}
	}

	result.WriteString(currentLine)
	return result.String()
}

func getLoadingAnimation(frame int) string {
	arc := []string{"◜", "◠", "◝", "◞", "◡", "◟"}
	return arc[frame%len(arc)]
}
