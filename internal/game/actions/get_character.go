package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"dmagent/internal/store"
)

type GetCharacterAction struct{}

func (a *GetCharacterAction) Name() string {
	return "get_character"
}

func (a *GetCharacterAction) Description() string {
	return "Fetch a player character by playerId + sessionId"
}

func (a *GetCharacterAction) Parameters() []Param {
	return sessionParams
}

func (a *GetCharacterAction) Validate(params map[string]any) error {
	_, err := sessionKey(a.Name(), params)
	return err
}

func (a *GetCharacterAction) Execute(ctx context.Context, st store.StateStore, params map[string]any) (map[string]any, error) {
	key, err := sessionKey(a.Name(), params)
	if err != nil {
		return nil, err
	}

	rec, ok, err := st.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read game state: %w", err)
	}

	body := map[string]any{"character": nil, "world": nil}
	if !ok {
		return body, nil
	}
	if rec.Character != nil {
		body["character"] = decodeCharacter(*rec.Character)
	}
	if rec.World != nil {
		body["world"] = rec.World
	}
	return body, nil
}

// decodeCharacter parses a stored character payload. Payloads that are not
// valid JSON are repaired when possible and otherwise returned as text.
func decodeCharacter(raw string) any {
	if v, err := decodeJSON(raw); err == nil {
		return v
	}
	if fixed, err := jsonrepair.JSONRepair(raw); err == nil {
		if v, err := decodeJSON(fixed); err == nil {
			return v
		}
	}
	return raw
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}
