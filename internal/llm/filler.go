package llm

import (
	"context"
	"fmt"
)

const fillSystemPrompt = `You are an expert resume writer and HTML/CSS developer.
You receive an HTML resume template and the plain text of a candidate's existing resume.
Fill the template with the candidate's information.

RULES:
1. Keep the template's structure, classes and inline style="..." attributes.
2. Replace every placeholder with the candidate's real data; remove sections the candidate has no data for.
3. Add repeated entries (jobs, degrees, projects) by duplicating the template's existing markup for that entry.
4. Never invent facts that are not in the resume text.
5. The result must be a complete HTML document that fits an A4 page.

STRICT OUTPUT RULE:
Return ONLY a JSON object with a single key "html_code" holding the full HTML document.
Do NOT include markdown fences or any text outside the JSON object.`

// Filler produces the first version of a resume from a template and extracted text.
type Filler struct {
	llm Completer
}

func NewFiller(c Completer) *Filler {
	return &Filler{llm: c}
}

func (f *Filler) Fill(ctx context.Context, templateMarkup, resumeText string) (string, error) {
	user := fmt.Sprintf(`===== TEMPLATE START =====
%s
===== TEMPLATE END =====

===== RESUME TEXT START =====
%s
===== RESUME TEXT END =====

Respond ONLY with a JSON object containing "html_code".
`, templateMarkup, resumeText)

	raw, err := f.llm.Complete(ctx, "fill", fillSystemPrompt, user)
	if err != nil {
		return "", err
	}
	return parseFill(raw)
}
