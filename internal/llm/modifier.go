package llm

import (
	"context"
	"fmt"
	"strings"
)

// DefaultReply is used when the model omits a conversational reply.
const DefaultReply = "I've processed your request."

// MaxHistoryTurns bounds the conversation context sent with an edit.
const MaxHistoryTurns = 5

// Completer is the single-turn model call the modifier and filler depend on.
type Completer interface {
	Complete(ctx context.Context, operation, system, user string) (string, error)
}

// Turn is one prior chat message.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"content"`
}

// EditRequest is one edit submission.
type EditRequest struct {
	HTML          string
	Prompt        string
	History       []Turn
	ExtractedData string
}

// EditResult carries the new HTML and the assistant's reply.
type EditResult struct {
	HTML  string
	Reply string
}

const modifySystemPrompt = `You are an expert HTML & Inline CSS resume modifier and conversational assistant.
Your primary task is to maintain and modify the HTML resume code according to a user's prompt.

RULES:
1. Always respond with a single JSON object.
2. The JSON object MUST contain two keys: "reply" (conversational text) and "modified_code" (the full HTML code).
3. If a modification is required (e.g., "change my email"), make the change in the HTML, set "modified_code" to the NEW code, and set "reply" to a polite confirmation.
4. If a modification is NOT required (e.g., "What skills should I add?"), do NOT change the code. Set "modified_code" to the ORIGINAL code and set "reply" to your advice.
5. Preserve all style="..." inline CSS attributes unless specifically asked to redesign the layout. Do not break the HTML structure.
6. Make ONLY the changes requested. Do not add extra content or restructure unnecessarily.

OVERLAPPING TEXT:
If the user mentions text overlapping, overflowing, or layout issues, add appropriate margins, padding or spacing,
use overflow: hidden or text-overflow: ellipsis if needed, and adjust widths, heights or positioning.

STRICT OUTPUT RULE:
Return ONLY a JSON object with the keys "reply" and "modified_code".
Do NOT include any other text, explanations, or markdown fences outside the JSON object.

Example response format:
{"reply": "I've updated your email address to the new one.", "modified_code": "<!DOCTYPE html><html>...</html>"}`

// Modifier applies one natural-language instruction to resume HTML.
type Modifier struct {
	llm Completer
}

func NewModifier(c Completer) *Modifier {
	return &Modifier{llm: c}
}

// Modify performs exactly one model call. Unparseable or too-short output is a
// ServiceRejected error; network failures are TransportFailure.
func (m *Modifier) Modify(ctx context.Context, req EditRequest) (EditResult, error) {
	raw, err := m.llm.Complete(ctx, "modify", modifySystemPrompt, buildEditMessage(req))
	if err != nil {
		return EditResult{}, err
	}
	return parseEdit(raw, req.HTML)
}

func buildEditMessage(req EditRequest) string {
	prompt := req.Prompt
	if strings.TrimSpace(req.ExtractedData) != "" {
		prompt = fmt.Sprintf("CONTEXT FROM ORIGINAL RESUME:\n%s\n\nUSER REQUEST:\n%s", req.ExtractedData, req.Prompt)
	}

	var history strings.Builder
	turns := req.History
	if len(turns) > MaxHistoryTurns {
		turns = turns[len(turns)-MaxHistoryTurns:]
	}
	if len(turns) > 0 {
		history.WriteString("Here is the conversation history that provides context for the request:\n")
		for _, t := range turns {
			fmt.Fprintf(&history, "[%s]: %s\n", strings.ToUpper(t.Role), t.Text)
		}
		history.WriteString("\n")
	}

	return fmt.Sprintf(`Here is the current HTML code you must modify (or return unchanged):

===== CODE START =====
%s
===== CODE END =====

%s
Here is the user's final and most recent request:
%s

IMPORTANT:
Respond ONLY with a JSON object containing "reply" (conversational text) and "modified_code" (valid HTML).
`, req.HTML, history.String(), prompt)
}
