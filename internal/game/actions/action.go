// Package actions holds the fixed set of game state operations a model may
// request, and the registry that runs them against a state store.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"dmagent/internal/store"
)

// Action is one named state operation.
type Action interface {
	Name() string
	Description() string
	Parameters() []Param
	Validate(params map[string]any) error
	Execute(ctx context.Context, st store.StateStore, params map[string]any) (map[string]any, error)
}

// Param describes one named argument, in positional order.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

var sessionParams = []Param{
	{Name: "playerId", Type: "string", Description: "Player identifier", Required: true},
	{Name: "sessionId", Type: "string", Description: "Session identifier", Required: true},
}

// scalarString renders a scalar parameter value as text. Objects and arrays
// are not scalars.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}

func requireString(fn string, params map[string]any, name string) (string, error) {
	s, ok := scalarString(params[name])
	if !ok || s == "" {
		return "", fmt.Errorf("%s requires '%s' parameter", fn, name)
	}
	return s, nil
}

func sessionKey(fn string, params map[string]any) (store.SessionKey, error) {
	playerID, err := requireString(fn, params, "playerId")
	if err != nil {
		return store.SessionKey{}, err
	}
	sessionID, err := requireString(fn, params, "sessionId")
	if err != nil {
		return store.SessionKey{}, err
	}
	return store.SessionKey{PlayerID: playerID, SessionID: sessionID}, nil
}
