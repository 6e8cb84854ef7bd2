package sanitize

import (
	"regexp"
	"strings"
)

var illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Filename removes problematic characters from a chapter or novel title
func Filename(title string) string {
	// Trim spaces & dots
	title = strings.Trim(title, " .")

	// Remove illegal chars
	title = illegalChars.ReplaceAllString(title, "")
	return title
}
