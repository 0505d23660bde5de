// Package playercount converts an arbitrary textual server response into
// an integer player count. The parser is format-sniffing: an ordered list
// of independent matchers is tried in sequence, each total (never
// panics), and the first match wins. Absence of a parseable count is 0,
// not an error — callers combine the count with the raw response to tell
// "empty server" apart from "unparseable".
package playercount

import (
	"regexp"
	"strconv"
	"strings"
)

// csvHeader marks the Palworld-style CSV player listing.
const csvHeader = "name,playeruid,steamid"

var (
	anyDigitRe      = regexp.MustCompile(`\d`)
	ratioRe         = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)\s*$`)
	numberedLineRe  = regexp.MustCompile(`^\s*\d+\.\s*\S`)
	onlinePlayersRe = regexp.MustCompile(`Online players \((\d+)\):`)
)

// matcher inspects a response and reports a count if its format applies.
type matcher func(response string) (int, bool)

// matchers are tried in order; the caller-supplied pattern runs after all
// of them.
var matchers = []matcher{
	matchRatio,
	matchNumberedListing,
	matchCSVListing,
	matchOnlinePlayersHeader,
}

// Extract converts a server response into a player count. customPattern,
// when non-empty, is a regular expression applied after the built-in
// matchers; its entire match must parse as an integer.
func Extract(response, customPattern string) int {
	if strings.TrimSpace(response) == "" || !anyDigitRe.MatchString(response) {
		return 0
	}

	for _, m := range matchers {
		if n, ok := m(response); ok {
			return n
		}
	}

	if customPattern != "" {
		if n, ok := matchCustom(response, customPattern); ok {
			return n
		}
	}
	return 0
}

// matchRatio handles the exact "<online>/<max>" shape produced by the
// binary probes and the HTTP fallback.
func matchRatio(response string) (int, bool) {
	m := ratioRe.FindStringSubmatch(response)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// matchNumberedListing counts lines of the "N. name, ..." shape.
func matchNumberedListing(response string) (int, bool) {
	count := 0
	for _, line := range strings.Split(response, "\n") {
		if numberedLineRe.MatchString(line) {
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return count, true
}

// matchCSVListing counts data rows under a "name,playeruid,steamid"
// header. A header with no rows is a valid empty server, not a miss.
func matchCSVListing(response string) (int, bool) {
	lines := strings.Split(strings.ReplaceAll(response, "\r\n", "\n"), "\n")
	headerAt := -1
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), csvHeader) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return 0, false
	}
	count := 0
	for _, line := range lines[headerAt+1:] {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, true
}

// matchOnlinePlayersHeader handles "Online players (N):" listings.
func matchOnlinePlayersHeader(response string) (int, bool) {
	m := onlinePlayersRe.FindStringSubmatch(response)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// matchCustom applies a caller-supplied pattern. An invalid pattern or a
// non-integer match is a miss, never an error.
func matchCustom(response, pattern string) (int, bool) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, false
	}
	s := re.FindString(response)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
