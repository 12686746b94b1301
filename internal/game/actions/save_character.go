package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"dmagent/internal/store"
)

type SaveCharacterAction struct{}

func (a *SaveCharacterAction) Name() string {
	return "save_character"
}

func (a *SaveCharacterAction) Description() string {
	return "Save/replace the player character"
}

func (a *SaveCharacterAction) Parameters() []Param {
	return append(append([]Param(nil), sessionParams...),
		Param{Name: "character", Type: "object", Description: "Character data", Required: true})
}

func (a *SaveCharacterAction) Validate(params map[string]any) error {
	if _, err := sessionKey(a.Name(), params); err != nil {
		return err
	}
	if _, ok := params["character"]; !ok || params["character"] == nil {
		return fmt.Errorf("save_character requires 'character' parameter")
	}
	return nil
}

func (a *SaveCharacterAction) Execute(ctx context.Context, st store.StateStore, params map[string]any) (map[string]any, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	key, _ := sessionKey(a.Name(), params)

	payload, err := encodeCharacter(params["character"])
	if err != nil {
		return nil, err
	}
	if err := st.Write(ctx, key, store.Patch{Character: &payload}); err != nil {
		return nil, fmt.Errorf("failed to save character: %w", err)
	}
	return map[string]any{"status": "saved"}, nil
}

// encodeCharacter keeps string payloads verbatim and serializes anything else.
func encodeCharacter(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize character: %w", err)
	}
	return string(b), nil
}
