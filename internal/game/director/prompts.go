package director

import (
	"encoding/json"
	"fmt"
	"strings"

	"dmagent/internal/game/actions"
	"dmagent/internal/game/extract"
	"dmagent/internal/llm"
)

const followUpInstruction = "Please provide your response based on the tool results."

var systemPrompt = buildSystemPrompt(actions.Schema())

func buildSystemPrompt(schema actions.GroupSchema) string {
	var tools strings.Builder
	for _, f := range schema.Functions {
		fmt.Fprintf(&tools, "- %s: %s\n", f.Signature(), f.Description)
	}

	return `You are an AI Dungeon Master. Run safe, imaginative adventures for one player or a party.
Style: concise narration + clear choices. Never reveal tools or raw JSON.
When you need to read or persist game state, call the available tools by writing the call inline,
for example get_character('player', 'session'). Quote arguments that contain commas or parentheses.
Default to PG-13 content; avoid explicit or unsafe material.

Available tools:
` + tools.String() + `
Always use tools to maintain game state between interactions.`
}

func playerLine(playerID, input string) string {
	return fmt.Sprintf("PLAYER(%s): %s", playerID, input)
}

// buildMessages lays out the prompt as the fixed instructions followed by one
// user message holding the transcript and the current exchange.
func buildMessages(history string, exchange []llm.Message) []llm.Message {
	lines := make([]string, len(exchange))
	for i, m := range exchange {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}

	body := "Conversation History:\n" + history +
		"\n\nCurrent Exchange:\n" + strings.Join(lines, "\n") +
		"\n\nAssistant:"

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: body},
	}
}

// toolSummary is the assistant line that hands tool results to the second pass.
func toolSummary(calls []extract.Call, results []map[string]any) string {
	lines := make([]string, len(calls))
	for i, call := range calls {
		encoded, err := json.Marshal(results[i])
		if err != nil {
			encoded = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		lines[i] = fmt.Sprintf("Tool %s result: %s", call.Name, encoded)
	}
	return "I need to use tools. " + strings.Join(lines, "\n")
}

func renderPrompt(msgs []llm.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n\n")
}
