package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"resumeforge/internal/errcode"
)

var longHTML = "<!DOCTYPE html><html><head><title>cv</title></head><body>" + strings.Repeat("<p>Experience</p>", 10) + "</body></html>"

type fakeCompleter struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeCompleter) Complete(_ context.Context, _, system, user string) (string, error) {
	f.calls++
	f.system = system
	f.user = user
	return f.reply, f.err
}

func jsonEdit(reply, code string) string {
	return fmt.Sprintf(`{"reply": %q, "modified_code": %q}`, reply, code)
}

func TestParseEdit(t *testing.T) {
	changed := strings.Replace(longHTML, "cv", "Jane", 1)

	cases := []struct {
		name      string
		raw       string
		wantHTML  string
		wantReply string
	}{
		{"plain json", jsonEdit("Done.", changed), changed, "Done."},
		{"fenced", "```json\n" + jsonEdit("Done.", changed) + "\n```", changed, "Done."},
		{"prose around json", "Sure! " + jsonEdit("Done.", changed) + " Hope that helps.", changed, "Done."},
		{"missing reply", fmt.Sprintf(`{"modified_code": %q}`, changed), changed, DefaultReply},
		{"missing code keeps original", `{"reply": "Add Go to your skills."}`, longHTML, "Add Go to your skills."},
		{"fenced inner code", jsonEdit("ok", "```html\n"+changed+"\n```"), changed, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := parseEdit(tc.raw, longHTML)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if res.HTML != tc.wantHTML {
				t.Fatalf("html mismatch:\n got %q\nwant %q", res.HTML, tc.wantHTML)
			}
			if res.Reply != tc.wantReply {
				t.Fatalf("reply = %q, want %q", res.Reply, tc.wantReply)
			}
		})
	}
}

func TestParseEditRegexFallback(t *testing.T) {
	// Trailing comma makes the object invalid JSON.
	raw := `{"reply": "Updated \"email\".", "modified_code": "` + strings.ReplaceAll(longHTML, `"`, `\"`) + `",}`
	res, err := parseEdit(raw, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Reply != `Updated "email".` || res.HTML != longHTML {
		t.Fatalf("unexpected fallback result %+v", res)
	}
}

func TestParseEditRejects(t *testing.T) {
	cases := map[string]string{
		"not json":         "I cannot help with that.",
		"short html":       jsonEdit("ok", "<p>hi</p>"),
		"wrong field type": `{"reply": "ok", "modified_code": 42}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseEdit(raw, longHTML)
			if errcode.KindOf(err) != errcode.KindRejected {
				t.Fatalf("expected rejected, got %v", err)
			}
		})
	}
}

func TestParseFill(t *testing.T) {
	got, err := parseFill(fmt.Sprintf(`{"html_code": %q}`, longHTML))
	if err != nil || got != longHTML {
		t.Fatalf("json fill: %q %v", got, err)
	}
	got, err = parseFill("```html\n" + longHTML + "\n```")
	if err != nil || got != longHTML {
		t.Fatalf("bare html fill: %q %v", got, err)
	}
	if _, err := parseFill(`{"html_code": ""}`); errcode.KindOf(err) != errcode.KindRejected {
		t.Fatalf("expected rejected for empty html_code, got %v", err)
	}
}

func TestModifyBuildsMessage(t *testing.T) {
	fc := &fakeCompleter{reply: jsonEdit("Done.", longHTML)}
	m := NewModifier(fc)

	history := make([]Turn, 0, 7)
	for i := 0; i < 7; i++ {
		history = append(history, Turn{Role: "user", Text: fmt.Sprintf("turn-%d", i)})
	}
	_, err := m.Modify(context.Background(), EditRequest{
		HTML:          longHTML,
		Prompt:        "make name bold",
		History:       history,
		ExtractedData: "Jane Doe, Go engineer",
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if fc.calls != 1 {
		t.Fatalf("expected exactly one model call, got %d", fc.calls)
	}
	if !strings.Contains(fc.user, "===== CODE START =====\n"+longHTML+"\n===== CODE END =====") {
		t.Fatal("html not placed between code markers")
	}
	if !strings.Contains(fc.user, "CONTEXT FROM ORIGINAL RESUME:\nJane Doe, Go engineer\n\nUSER REQUEST:\nmake name bold") {
		t.Fatalf("extracted context not prefixed: %s", fc.user)
	}
	if strings.Contains(fc.user, "turn-1\n") || !strings.Contains(fc.user, "[USER]: turn-2\n") || !strings.Contains(fc.user, "[USER]: turn-6\n") {
		t.Fatalf("history not limited to last %d turns: %s", MaxHistoryTurns, fc.user)
	}
	if fc.system != modifySystemPrompt {
		t.Fatal("unexpected system prompt")
	}
}

func TestModifyPropagatesTransportError(t *testing.T) {
	fc := &fakeCompleter{err: errcode.Transport("language model request failed", errors.New("dial tcp"))}
	_, err := NewModifier(fc).Modify(context.Background(), EditRequest{HTML: longHTML, Prompt: "x"})
	if errcode.KindOf(err) != errcode.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFillerPassesTemplateAndText(t *testing.T) {
	fc := &fakeCompleter{reply: fmt.Sprintf(`{"html_code": %q}`, longHTML)}
	got, err := NewFiller(fc).Fill(context.Background(), "<html>{{name}}</html>", "Jane Doe")
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got != longHTML {
		t.Fatalf("unexpected html %q", got)
	}
	if !strings.Contains(fc.user, "<html>{{name}}</html>") || !strings.Contains(fc.user, "Jane Doe") {
		t.Fatalf("prompt missing inputs: %s", fc.user)
	}
}
