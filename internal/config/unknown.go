package config

import (
	"log/slog"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you
// mean?" suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid dotted keys in the config file, used only for
// suggestions — anything that decodes into Config is known by
// construction, so the undecoded set is exactly the unknown set.
var knownKeys = []string{
	"remote.url", "remote.anon_key", "remote.realtime",
	"store.path",
	"auth.token_path",
	"sync.tick_interval", "sync.tables", "sync.watermark_column", "sync.watch_local",
	"log.level", "log.format",
}

func init() {
	// Sorted for deterministic suggestions when two candidates have the
	// same edit distance.
	sort.Strings(knownKeys)
}

// warnUnknownKeys logs a warning for every key the decoder did not
// recognize, with the closest known key as a suggestion. Typos still
// deserve a nudge even though they are not fatal.
func warnUnknownKeys(md *toml.MetaData, path string, logger *slog.Logger) {
	for _, key := range md.Undecoded() {
		keyStr := key.String()

		attrs := []any{
			slog.String("key", keyStr),
			slog.String("file", path),
		}
		if suggestion := closestMatch(keyStr, knownKeys); suggestion != "" {
			attrs = append(attrs, slog.String("did_you_mean", suggestion))
		}

		logger.Warn("unknown config key ignored", attrs...)
	}
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

	// Single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 0; i < len(a); i++ {
		curr[0] = i + 1

		for j := 0; j < len(b); j++ {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
