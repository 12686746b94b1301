package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(calls []Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}

func TestExtractNoCalls(t *testing.T) {
	assert.Empty(t, Extract("The tavern is warm and loud. What do you do?"))
	assert.Empty(t, Extract(""))
}

func TestExtractChestScenario(t *testing.T) {
	calls := Extract(`You find a sword. save_character('p1','s1','{"sword":true}')`)
	require.Len(t, calls, 1)
	assert.Equal(t, "save_character", calls[0].Name)
	assert.Equal(t, map[string]string{
		"playerId":  "p1",
		"sessionId": "s1",
		"character": `{"sword":true}`,
	}, calls[0].Params)
}

func TestExtractPreservesTextOrderAcrossFunctions(t *testing.T) {
	text := `append_log(p1, s1, "entered the cave") then get_character(p1, s1) and finally ` +
		`append_log(p1, s1, 'lit a torch') save_character("p1", "s1", "{}")`

	calls := Extract(text)
	assert.Equal(t, []string{"append_log", "get_character", "append_log", "save_character"}, names(calls))
	assert.Equal(t, "entered the cave", calls[0].Params["entry"])
	assert.Equal(t, "lit a torch", calls[2].Params["entry"])
	for i := 1; i < len(calls); i++ {
		assert.Less(t, calls[i-1].Offset, calls[i].Offset)
	}
}

func TestExtractTrimsBareAndKeepsQuotedWhitespace(t *testing.T) {
	calls := Extract("append_log(   p1 ,\ts1 , '  padded  ' )")
	require.Len(t, calls, 1)
	assert.Equal(t, "p1", calls[0].Params["playerId"])
	assert.Equal(t, "s1", calls[0].Params["sessionId"])
	assert.Equal(t, "  padded  ", calls[0].Params["entry"])
}

func TestExtractQuotedDelimiters(t *testing.T) {
	calls := Extract(`append_log('p1', 's1', "a, b (and c)")`)
	require.Len(t, calls, 1)
	assert.Equal(t, "a, b (and c)", calls[0].Params["entry"])
}

func TestExtractEscapes(t *testing.T) {
	calls := Extract(`append_log('p1', 's1', 'the innkeeper\'s dog \\ barks')`)
	require.Len(t, calls, 1)
	assert.Equal(t, `the innkeeper's dog \ barks`, calls[0].Params["entry"])
}

func TestExtractIgnoresUnknownAndEmbeddedIdentifiers(t *testing.T) {
	assert.Empty(t, Extract("delete_character(p1, s1)"))
	assert.Empty(t, Extract("my_get_character(p1, s1)"))
	assert.Empty(t, Extract("get_character (p1, s1)"))
	assert.Empty(t, Extract("get_characters(p1, s1)"))
}

func TestParseDropsMalformedWithoutCorruptingNeighbours(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		reason string
	}{
		{"unterminated quote", `append_log(p1, s1, 'oops) get_character(p1, s1)`, "unterminated"},
		{"nested paren in bare", `append_log(p1, s1, f(x)) get_character(p1, s1)`, "nested parenthesis"},
		{"arity", `append_log(p1, s1) get_character(p1, s1)`, "expected 3 arguments, got 2"},
		{"missing close", "append_log(p1, s1, x\nget_character(p1, s1)", "missing closing parenthesis"},
		{"junk after quote", `append_log(p1, s1, 'a'b) get_character(p1, s1)`, "after quoted argument"},
		{"empty argument", `append_log(p1, , x) get_character(p1, s1)`, "empty argument"},
		{"arity with quoted call", `append_log(p1, s1, "she whispers get_character(p9, s9)", extra) get_character(p1, s1)`, "expected 3 arguments, got 4"},
		{"junk after quoted call", `append_log(p1, s1, 'say save_character(p9, s9, x)'b) get_character(p1, s1)`, "after quoted argument"},
		{"bad bare after quoted call", `append_log(p1, "get_character(p9, s9)", f(x)) get_character(p1, s1)`, "nested parenthesis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls, rejects := defaultParser.Parse(tc.text)
			require.Len(t, rejects, 1)
			assert.Equal(t, "append_log", rejects[0].Name)
			assert.Contains(t, rejects[0].Reason, tc.reason)

			require.Len(t, calls, 1)
			assert.Equal(t, "get_character", calls[0].Name)
			assert.Equal(t, map[string]string{"playerId": "p1", "sessionId": "s1"}, calls[0].Params)
		})
	}
}

func TestParseEmptyArgumentList(t *testing.T) {
	calls, rejects := defaultParser.Parse("get_character()")
	assert.Empty(t, calls)
	require.Len(t, rejects, 1)
	assert.Contains(t, rejects[0].Reason, "expected 2 arguments, got 0")
}

func TestCustomGrammar(t *testing.T) {
	p := New(map[string][]string{"roll": {"dice"}})
	calls, rejects := p.Parse("I roll(2d6) and get_character(p1, s1)")
	assert.Empty(t, rejects)
	require.Len(t, calls, 1)
	assert.Equal(t, "roll", calls[0].Name)
	assert.Equal(t, "2d6", calls[0].Params["dice"])
}
