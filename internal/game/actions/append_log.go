package actions

import (
	"context"
	"fmt"

	"dmagent/internal/store"
)

type AppendLogAction struct{}

func (a *AppendLogAction) Name() string {
	return "append_log"
}

func (a *AppendLogAction) Description() string {
	return "Append a narrative log entry to world state"
}

func (a *AppendLogAction) Parameters() []Param {
	return append(append([]Param(nil), sessionParams...),
		Param{Name: "entry", Type: "string", Description: "Log entry text", Required: true})
}

func (a *AppendLogAction) Validate(params map[string]any) error {
	if _, err := sessionKey(a.Name(), params); err != nil {
		return err
	}
	if _, ok := scalarString(params["entry"]); !ok {
		return fmt.Errorf("append_log requires 'entry' parameter")
	}
	return nil
}

func (a *AppendLogAction) Execute(ctx context.Context, st store.StateStore, params map[string]any) (map[string]any, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	key, _ := sessionKey(a.Name(), params)
	entry, _ := scalarString(params["entry"])

	if err := st.Write(ctx, key, store.Patch{AppendLog: &entry}); err != nil {
		return nil, fmt.Errorf("failed to append log: %w", err)
	}
	return map[string]any{"status": "logged"}, nil
}
