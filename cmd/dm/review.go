package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"dmagent/internal/logging"
)

func printCompletions(w io.Writer, completions []logging.CompletionLog) {
	if len(completions) == 0 {
		fmt.Fprintln(w, "No completions found. Play a turn first to generate data!")
		return
	}

	fmt.Fprintf(w, "Recent completions (%d):\n\n", len(completions))

	for _, comp := range completions {
		var metadata logging.CompletionMetadata
		if err := json.Unmarshal([]byte(comp.Metadata), &metadata); err == nil {
			fmt.Fprintf(w, "[%d] %s | %s pass | %v | %d tool calls | %s/%s\n",
				comp.ID,
				comp.Timestamp.Format("15:04:05"),
				comp.Pass,
				metadata.ResponseTime,
				metadata.ToolCalls,
				comp.PlayerID,
				comp.SessionID)
			if metadata.Error != nil {
				fmt.Fprintf(w, "Error: %s\n", *metadata.Error)
			}
		} else {
			fmt.Fprintf(w, "[%d] %s | %s pass\n", comp.ID, comp.Timestamp.Format("15:04:05"), comp.Pass)
		}

		fmt.Fprintf(w, "Response: %s\n", comp.Response)
		if comp.Rating != nil {
			fmt.Fprintf(w, "Rating: %d/5", *comp.Rating)
			if comp.Notes != nil {
				fmt.Fprintf(w, " - %s", *comp.Notes)
			}
		} else {
			fmt.Fprint(w, "Rating: not rated")
		}
		fmt.Fprintln(w, "\n"+strings.Repeat("-", 50))
	}

	fmt.Fprintln(w, "\nTo rate a completion: dm rate <id> <rating> [notes]")
}
