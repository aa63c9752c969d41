package rules

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{name}} placeholders from vars. Unknown names render empty
// and are returned so callers can log them.
func Render(body string, vars map[string]interface{}) (string, []string) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			missing = append(missing, name)
			return ""
		}
		return attrString(v)
	})
	return strings.TrimSpace(out), missing
}
