package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"dmagent/internal/game/actions"
)

// Shape is the calling convention a request arrived in.
type Shape int

const (
	// ShapeParameterList is {actionGroup, function, parameters: [{name|key, value}]}.
	ShapeParameterList Shape = iota
	// ShapeFlat is {function, <param>: <value>, ...}.
	ShapeFlat
	// ShapeEnvelope is {httpMethod, body: "{\"action\": ..., <param>: ...}"}.
	ShapeEnvelope
)

func (s Shape) String() string {
	switch s {
	case ShapeParameterList:
		return "parameter_list"
	case ShapeFlat:
		return "flat"
	case ShapeEnvelope:
		return "envelope"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

type agentParam struct {
	Name  *string `json:"name"`
	Key   *string `json:"key"`
	Value any     `json:"value"`
}

// Decode detects the shape of raw and normalizes it to a canonical request.
// The shape is reported even when the payload inside it is malformed, so the
// caller can still answer in kind.
func Decode(raw []byte) (actions.Request, Shape, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return actions.Request{}, ShapeParameterList, fmt.Errorf("request is not a JSON object: %w", err)
	}

	if body, ok := obj["body"]; ok {
		req, err := fromEnvelope(body)
		return req, ShapeEnvelope, err
	}
	if _, ok := obj["parameters"]; ok {
		req, err := fromParameterList(obj)
		return req, ShapeParameterList, err
	}
	if _, ok := obj["actionGroup"]; ok {
		req, err := fromParameterList(obj)
		return req, ShapeParameterList, err
	}
	req, err := fromFlat(obj, "function")
	return req, ShapeFlat, err
}

func fromParameterList(obj map[string]any) (actions.Request, error) {
	fn, _ := obj["function"].(string)
	req := actions.Request{Function: fn, Params: map[string]any{}}

	raw, err := json.Marshal(obj["parameters"])
	if err != nil {
		return req, err
	}
	var list []agentParam
	if obj["parameters"] != nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&list); err != nil {
			return req, fmt.Errorf("parameters must be a list of {name, value} pairs: %w", err)
		}
	}
	for _, p := range list {
		switch {
		case p.Name != nil:
			req.Params[*p.Name] = p.Value
		case p.Key != nil:
			req.Params[*p.Key] = p.Value
		}
	}
	if fn == "" {
		return req, fmt.Errorf("function must be provided")
	}
	return req, nil
}

// fromFlat treats every field other than the discriminator as a parameter.
func fromFlat(obj map[string]any, discriminator string) (actions.Request, error) {
	fn, _ := obj[discriminator].(string)
	if fn == "" && discriminator == "function" {
		if action, ok := obj["action"].(string); ok {
			fn, discriminator = action, "action"
		}
	}
	req := actions.Request{Function: fn, Params: make(map[string]any, len(obj))}
	for k, v := range obj {
		if k == discriminator {
			continue
		}
		req.Params[k] = v
	}
	if fn == "" {
		return req, fmt.Errorf("%s must be provided", discriminator)
	}
	return req, nil
}

func fromEnvelope(body any) (actions.Request, error) {
	var inner map[string]any
	switch b := body.(type) {
	case string:
		obj, err := decodeObject([]byte(b))
		if err != nil {
			return actions.Request{}, fmt.Errorf("body is not a JSON object: %w", err)
		}
		inner = obj
	case map[string]any:
		inner = b
	default:
		return actions.Request{}, fmt.Errorf("body must be a JSON-encoded object")
	}
	return fromFlat(inner, "action")
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null")
	}
	return obj, nil
}

// EncodeEnvelope builds the envelope-shaped request for req.
func EncodeEnvelope(req actions.Request) ([]byte, error) {
	inner := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		inner[k] = v
	}
	inner["action"] = req.Function
	body, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"httpMethod": "POST", "body": string(body)})
}

// EncodeParameterList builds the parameter-list request for req, with
// parameters sorted by name.
func EncodeParameterList(req actions.Request) ([]byte, error) {
	names := make([]string, 0, len(req.Params))
	for k := range req.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	params := make([]map[string]any, 0, len(names))
	for _, n := range names {
		params = append(params, map[string]any{"name": n, "value": req.Params[n]})
	}
	return json.Marshal(map[string]any{
		"actionGroup": actions.ActionGroup,
		"function":    req.Function,
		"parameters":  params,
	})
}
