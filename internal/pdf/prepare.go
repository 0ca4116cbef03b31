package pdf

import (
	"regexp"
	"strings"
)

// Declarations headless Chromium prints badly.
var unsupportedCSS = []*regexp.Regexp{
	regexp.MustCompile(`(?i)backdrop-filter\s*:\s*[^;]+;`),
	regexp.MustCompile(`(?i)transform\s*:\s*translate[^;]+;`),
	regexp.MustCompile(`(?i)filter\s*:\s*blur[^;]+;`),
	regexp.MustCompile(`(?i)clip-path\s*:\s*[^;]+;`),
	regexp.MustCompile(`(?i)mix-blend-mode\s*:\s*[^;]+;`),
}

var (
	headCloseRe = regexp.MustCompile(`(?i)</head>`)
	bodyOpenRe  = regexp.MustCompile(`(?i)<body[^>]*>`)
)

const printMarker = "data-print-setup"

const printCSS = `<style ` + printMarker + `>
@page { size: A4; margin: 0; }
body { margin: 0; padding: 0; -webkit-print-color-adjust: exact; print-color-adjust: exact; }
* { box-sizing: border-box; }
</style>`

// Prepare strips unsupported CSS and injects A4 print rules: before </head>, else right after
// <body>, else at the start. Applying it twice is a no-op.
func Prepare(html string) string {
	for _, re := range unsupportedCSS {
		html = re.ReplaceAllString(html, "")
	}
	if strings.Contains(html, printMarker) {
		return html
	}

	if loc := headCloseRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + printCSS + html[loc[0]:]
	}
	if loc := bodyOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + printCSS + html[loc[1]:]
	}
	return printCSS + html
}
