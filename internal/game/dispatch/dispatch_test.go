package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmagent/internal/game/actions"
	"dmagent/internal/store"
)

func newDispatcher() *Dispatcher {
	return New(actions.NewRegistry(store.NewMemoryStore(), nil), nil)
}

func TestDecodeShapes(t *testing.T) {
	want := actions.Request{Function: "append_log", Params: map[string]any{
		"playerId": "p1", "sessionId": "s1", "entry": "a",
	}}

	cases := []struct {
		name  string
		raw   string
		shape Shape
	}{
		{"parameter list by name", `{"actionGroup":"GameActions","function":"append_log","parameters":[
			{"name":"playerId","value":"p1"},{"name":"sessionId","value":"s1"},{"name":"entry","value":"a"}]}`, ShapeParameterList},
		{"parameter list by key", `{"function":"append_log","parameters":[
			{"key":"playerId","value":"p1"},{"key":"sessionId","value":"s1"},{"key":"entry","value":"a"}]}`, ShapeParameterList},
		{"flat", `{"function":"append_log","playerId":"p1","sessionId":"s1","entry":"a"}`, ShapeFlat},
		{"flat with action", `{"action":"append_log","playerId":"p1","sessionId":"s1","entry":"a"}`, ShapeFlat},
		{"envelope", `{"httpMethod":"POST","body":"{\"action\":\"append_log\",\"playerId\":\"p1\",\"sessionId\":\"s1\",\"entry\":\"a\"}"}`, ShapeEnvelope},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, shape, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.shape, shape)
			assert.Equal(t, want, req)
		})
	}
}

func TestNameWinsOverKey(t *testing.T) {
	req, _, err := Decode([]byte(`{"function":"f","parameters":[{"name":"a","key":"b","value":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, req.Params)
}

func TestShapesProduceEqualResults(t *testing.T) {
	call := actions.Request{Function: "save_character", Params: map[string]any{
		"playerId": "p1", "sessionId": "s1", "character": `{"hp":7}`,
	}}
	get := actions.Request{Function: "get_character", Params: map[string]any{"playerId": "p1", "sessionId": "s1"}}

	list, err := EncodeParameterList(call)
	require.NoError(t, err)
	env, err := EncodeEnvelope(call)
	require.NoError(t, err)
	flat, err := json.Marshal(map[string]any{"function": call.Function, "playerId": "p1", "sessionId": "s1", "character": `{"hp":7}`})
	require.NoError(t, err)
	getEnv, err := EncodeEnvelope(get)
	require.NoError(t, err)

	var bodies []map[string]any
	for _, raw := range [][]byte{list, flat, env} {
		d := newDispatcher()
		saved, err := ResultBody(d.Handle(context.Background(), raw))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"status": "saved"}, saved)

		got, err := ResultBody(d.Handle(context.Background(), getEnv))
		require.NoError(t, err)
		bodies = append(bodies, got)
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[1], bodies[2])
}

func TestResponseMirrorsInputShape(t *testing.T) {
	d := newDispatcher()

	out := d.Handle(context.Background(), []byte(`{"actionGroup":"GameActions","function":"get_character","parameters":[
		{"name":"playerId","value":"p1"},{"name":"sessionId","value":"s1"}]}`))
	var agent AgentResponse
	require.NoError(t, json.Unmarshal(out, &agent))
	assert.Equal(t, "1.0", agent.MessageVersion)
	assert.Equal(t, "GameActions", agent.Response.ActionGroup)
	assert.Equal(t, "get_character", agent.Response.Function)
	assert.JSONEq(t, `{"character":null,"world":null}`, agent.Response.FunctionResponse.ResponseBody.Text.Body)

	out = d.Handle(context.Background(), []byte(`{"httpMethod":"POST","body":"{\"action\":\"get_character\",\"playerId\":\"p1\",\"sessionId\":\"s1\"}"}`))
	var resp HTTPResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"character":null,"world":null}`, resp.Body)
}

func TestUnknownFunctionIsNotice(t *testing.T) {
	d := newDispatcher()

	body, err := ResultBody(d.Handle(context.Background(), []byte(`{"function":"foo","parameters":[{"name":"x","value":1}]}`)))
	require.NoError(t, err)
	assert.Equal(t, "Unknown function: foo", body["notice"])
	assert.Equal(t, map[string]any{"x": json.Number("1")}, body["echo"])
	assert.NotContains(t, body, "error")
}

func TestMalformedRequestsAnswerWithError(t *testing.T) {
	d := newDispatcher()

	cases := map[string]string{
		"not json":          `{{{`,
		"bad envelope body": `{"httpMethod":"POST","body":"not json"}`,
		"no discriminator":  `{"httpMethod":"POST","body":"{\"playerId\":\"p1\"}"}`,
		"bad parameters":    `{"function":"get_character","parameters":"nope"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			body, err := ResultBody(d.Handle(context.Background(), []byte(raw)))
			require.NoError(t, err)
			assert.Contains(t, body, "error")
		})
	}
}

func TestEnvelopeErrorStatus(t *testing.T) {
	d := newDispatcher()

	out := d.Handle(context.Background(), []byte(`{"httpMethod":"POST","body":"{\"action\":\"append_log\",\"playerId\":\"p1\"}"}`))
	var resp HTTPResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 500, resp.StatusCode)
	assert.Contains(t, resp.Body, "append_log requires 'sessionId' parameter")
}
