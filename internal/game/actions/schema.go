package actions

import (
	"fmt"
	"strings"
)

// ActionGroup is the name external orchestration layers know these actions by.
const ActionGroup = "GameActions"

type FunctionSchema struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Parameters  []Param `json:"parameters" yaml:"parameters"`
}

type GroupSchema struct {
	ActionGroup string           `json:"actionGroup" yaml:"actionGroup"`
	Functions   []FunctionSchema `json:"functions" yaml:"functions"`
}

// Schema describes the default actions.
func Schema() GroupSchema {
	return describe(Defaults())
}

// Schema describes the registered actions.
func (r *Registry) Schema() GroupSchema {
	return describe(r.Actions())
}

func describe(list []Action) GroupSchema {
	g := GroupSchema{ActionGroup: ActionGroup}
	for _, a := range list {
		g.Functions = append(g.Functions, FunctionSchema{
			Name:        a.Name(),
			Description: a.Description(),
			Parameters:  a.Parameters(),
		})
	}
	return g
}

// Signature renders the call form used in prompts, e.g.
// "get_character(playerId, sessionId)".
func (f FunctionSchema) Signature() string {
	names := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		names[i] = p.Name
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(names, ", "))
}

// Arity returns the positional parameter names of each function.
func (g GroupSchema) Arity() map[string][]string {
	out := make(map[string][]string, len(g.Functions))
	for _, f := range g.Functions {
		names := make([]string, len(f.Parameters))
		for i, p := range f.Parameters {
			names[i] = p.Name
		}
		out[f.Name] = names
	}
	return out
}
