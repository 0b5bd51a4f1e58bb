package workflow

import (
	"encoding/json"
	"strings"
)

// HumanInputMarker is the token the agent emits when it needs the
// operator, followed by a JSON object describing the request.
const HumanInputMarker = "NEED_HUMAN_INPUT"

// HumanInputRequest is the structured form of an agent's request for
// operator input.
type HumanInputRequest struct {
	Question       string   `json:"question"`
	SuggestedTools []string `json:"suggested_tools,omitempty"`
	Findings       string   `json:"findings,omitempty"`
}

// ParseHumanInput extracts a structured input request from an agent reply.
// The reply qualifies when it contains the marker followed by a JSON
// object. Any reply that lacks the marker, or whose JSON does not parse,
// is treated as a plain question: the whole reply becomes the question so
// the operator always sees the agent's output.
func ParseHumanInput(reply string) HumanInputRequest {
	idx := strings.Index(reply, HumanInputMarker)
	if idx < 0 {
		return HumanInputRequest{Question: strings.TrimSpace(reply)}
	}

	rest := reply[idx+len(HumanInputMarker):]
	rest = strings.TrimLeft(rest, ": \t\r\n")

	start := strings.Index(rest, "{")
	if start < 0 {
		return HumanInputRequest{Question: strings.TrimSpace(reply)}
	}

	var req HumanInputRequest
	dec := json.NewDecoder(strings.NewReader(rest[start:]))
	if err := dec.Decode(&req); err != nil || req.Question == "" {
		return HumanInputRequest{Question: strings.TrimSpace(reply)}
	}
	return req
}
