package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"resumeforge/internal/errcode"
)

// MinHTMLLength is the shortest HTML accepted from the model.
const MinHTMLLength = 100

const editSchema = `{
  "type": "object",
  "properties": {
    "reply": {"type": "string"},
    "modified_code": {"type": "string"}
  }
}`

const fillSchema = `{
  "type": "object",
  "required": ["html_code"],
  "properties": {
    "html_code": {"type": "string", "minLength": 1}
  }
}`

var (
	editSchemaLoader = gojsonschema.NewStringLoader(editSchema)
	fillSchemaLoader = gojsonschema.NewStringLoader(fillSchema)

	leadingFenceRe  = regexp.MustCompile("^```[a-zA-Z0-9_+-]*\\s*")
	trailingFenceRe = regexp.MustCompile("\\s*```$")
)

// stripFences removes one surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = leadingFenceRe.ReplaceAllString(s, "")
	s = trailingFenceRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// decodeObject parses s as a JSON object, retrying on the outermost {...} substring.
func decodeObject(s string) (map[string]any, error) {
	var m map[string]any
	err := json.Unmarshal([]byte(s), &m)
	if err == nil {
		return m, nil
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		if err2 := json.Unmarshal([]byte(s[start:end+1]), &m); err2 == nil {
			return m, nil
		}
	}
	return nil, err
}

// stringField recovers "key": "..." from malformed JSON.
func stringField(s, key string) (string, bool) {
	re := regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	var out string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &out); err != nil {
		return m[1], true
	}
	return out, true
}

func validate(schema gojsonschema.JSONLoader, doc map[string]any) error {
	res, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate response: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

func checkHTML(html string) error {
	if len(html) < MinHTMLLength {
		return errcode.Rejected("model returned invalid or empty HTML", nil)
	}
	return nil
}

// parseEdit extracts {reply, modified_code}. A missing modified_code means "unchanged".
func parseEdit(raw, original string) (EditResult, error) {
	text := stripFences(raw)

	doc, err := decodeObject(text)
	if err != nil {
		reply, okReply := stringField(text, "reply")
		code, okCode := stringField(text, "modified_code")
		if !okReply || !okCode {
			return EditResult{}, errcode.Rejected("model returned invalid JSON format, please try again", err)
		}
		doc = map[string]any{"reply": reply, "modified_code": code}
	}
	if err := validate(editSchemaLoader, doc); err != nil {
		return EditResult{}, errcode.Rejected("model response did not match the expected format", err)
	}

	html := original
	if v, ok := doc["modified_code"].(string); ok {
		html = stripFences(v)
	}
	reply := DefaultReply
	if v, ok := doc["reply"].(string); ok && strings.TrimSpace(v) != "" {
		reply = strings.TrimSpace(v)
	}
	if err := checkHTML(html); err != nil {
		return EditResult{}, err
	}
	return EditResult{HTML: html, Reply: reply}, nil
}

// parseFill extracts {html_code}; a bare HTML document is accepted as well.
func parseFill(raw string) (string, error) {
	text := stripFences(raw)

	doc, err := decodeObject(text)
	if err != nil {
		if looksLikeHTML(text) {
			if err := checkHTML(text); err != nil {
				return "", err
			}
			return text, nil
		}
		code, ok := stringField(text, "html_code")
		if !ok {
			return "", errcode.Rejected("model returned invalid JSON format, please try again", err)
		}
		doc = map[string]any{"html_code": code}
	}
	if err := validate(fillSchemaLoader, doc); err != nil {
		return "", errcode.Rejected("model response did not match the expected format", err)
	}

	html := stripFences(doc["html_code"].(string))
	if err := checkHTML(html); err != nil {
		return "", err
	}
	return html, nil
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(l, "<!doctype html") || strings.HasPrefix(l, "<html")
}
