package game

import (
	"strings"
)

const (
	userPrefix = "User: "
	dmPrefix   = "DM: "
)

// AppendExchange returns transcript with one more User/DM exchange.
func AppendExchange(transcript, input, reply string) string {
	return transcript + "\n" + userPrefix + input + "\n" + dmPrefix + reply
}

// Exchange is one player input and the reply to it.
type Exchange struct {
	User string
	DM   string
}

// ParseTranscript splits a transcript into exchanges. Lines that do not start
// a new User or DM entry continue the previous one.
func ParseTranscript(transcript string) []Exchange {
	var out []Exchange
	var cur *string
	for _, line := range strings.Split(transcript, "\n") {
		switch {
		case strings.HasPrefix(line, userPrefix):
			out = append(out, Exchange{User: strings.TrimPrefix(line, userPrefix)})
			cur = &out[len(out)-1].User
		case strings.HasPrefix(line, dmPrefix) && len(out) > 0 && out[len(out)-1].DM == "":
			out[len(out)-1].DM = strings.TrimPrefix(line, dmPrefix)
			cur = &out[len(out)-1].DM
		case cur != nil:
			*cur += "\n" + line
		}
	}
	return out
}

// History is a bounded list of display lines for the play client.
type History struct {
	entries []string
	maxSize int
}

func NewHistory(maxSize int) *History {
	return &History{
		entries: make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func (h *History) AddPlayerInput(input string) {
	h.add(userPrefix + input)
}

func (h *History) AddReply(reply string) {
	h.add(dmPrefix + reply)
}

func (h *History) AddError(err error) {
	h.add("Error: " + err.Error())
}

func (h *History) add(entry string) {
	h.entries = append(h.entries, entry)

	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
}

func (h *History) Entries() []string {
	result := make([]string, len(h.entries))
	copy(result, h.entries)
	return result
}
