package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to its valid keys. The empty section holds
// top-level keys.
var knownKeys = map[string]map[string]bool{
	"":         {"data_dir": true},
	"backend":  {"url": true, "timeout": true, "max_retries": true, "requests_per_second": true},
	"device":   {"name": true, "ip": true, "user": true},
	"sync":     {"interval_minutes": true, "concurrency": true, "watch_events": true},
	"logging":  {"log_level": true},
	"server":   {"listen": true, "db_path": true},
	"transfer": {"key_path": true, "port": true, "known_hosts": true, "insecure_ignore_host_key": true},
}

// knownSectionsList is the sorted list of section names for suggestions.
var knownSectionsList = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		if s != "" {
			sections = append(sections, s)
		}
	}

	sort.Strings(sections)

	return sections
}()

// sortedKeys returns the sorted keys of a section for deterministic
// suggestions when two candidates have the same edit distance.
func sortedKeys(section string) []string {
	keys := make([]string, 0, len(knownKeys[section]))
	for k := range knownKeys[section] {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// topLevelCandidates lists everything that may appear at the top level of
// the file: plain keys and section names.
func topLevelCandidates() []string {
	return append(sortedKeys(""), knownSectionsList...)
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		keyStr := key.String()
		if err := buildKeyError(keyStr); err != nil && !seen[err.Error()] {
			seen[err.Error()] = true
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an undecoded key, suggesting
// the closest known section or key.
func buildKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 2)

	if len(parts) == 1 {
		if _, isSection := knownKeys[parts[0]]; isSection {
			return fmt.Errorf("config key %q must be a table, e.g. [%s]", parts[0], parts[0])
		}

		return unknownKeyError(parts[0], "", topLevelCandidates())
	}

	section, field := parts[0], parts[1]

	if _, ok := knownKeys[section]; !ok {
		return unknownKeyError(section, "", topLevelCandidates())
	}

	return unknownKeyError(field, section, sortedKeys(section))
}

func unknownKeyError(name, section string, candidates []string) error {
	label := fmt.Sprintf("unknown config key %q", name)
	if section != "" {
		label = fmt.Sprintf("unknown key %q in [%s]", name, section)
	}

	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("%s — did you mean %q?", label, suggestion)
	}

	return errors.New(label)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
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

			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
