package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

const appsSection = "apps"

// knownKeys lists the keys of each fixed section, sorted so that ties in
// closestMatch resolve deterministically.
var knownKeys = map[string][]string{
	"retry":       {"base_delay", "max_attempts", "max_delay"},
	"network":     {"connect_timeout", "data_timeout", "requests_per_second", "user_agent"},
	"transfers":   {"chunk_size", "parallel_downloads"},
	"logging":     {"log_level"},
	"credentials": {"backend", "path"},
}

var knownAppKeys = []string{"client_id", "client_secret", "endpoint", "redirect_url", "scope"}

var knownSections = func() []string {
	s := []string{appsSection}
	for k := range knownKeys {
		s = append(s, k)
	}

	sort.Strings(s)

	return s
}()

// checkUnknownKeys reports every undecoded key, with a suggestion when a
// known key is close enough.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) == 1:
		return withSuggestion(fmt.Sprintf("unknown config section or key %q", key[0]), key[0], knownSections)
	case key[0] == appsSection:
		if len(key) < 4 {
			return fmt.Errorf("apps: %q must be a table [apps.<provider>.<name>]", key.String())
		}

		msg := fmt.Sprintf("unknown key %q in [apps.%s.%s]", key[3], key[1], key[2])

		return withSuggestion(msg, key[3], knownAppKeys)
	default:
		known, ok := knownKeys[key[0]]
		if !ok {
			return withSuggestion(fmt.Sprintf("unknown config section %q", key[0]), key[0], knownSections)
		}

		return withSuggestion(fmt.Sprintf("unknown key %q in [%s]", key[1], key[0]), key[1], known)
	}
}

func withSuggestion(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch returns the known key nearest to unknown, or "" when none is
// within maxLevenshteinDistance. Ties go to the first candidate.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between a and b with two rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
