// Package preprocess filters, redacts, deduplicates and annotates parsed log
// entries before they are handed to the retrieval stores.
package preprocess

import (
	"fmt"
	"regexp"
	"strings"

	"logsight-backend/internal/model"

	"github.com/rs/zerolog/log"
)

var (
	phonePattern = regexp.MustCompile(`1[3-9]\d{9}`)
	emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	ipPattern    = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	coordPattern = regexp.MustCompile(`[-+]?\d{1,3}\.\d{6,}`)
)

const (
	phonePlaceholder = "[PHONE]"
	emailPlaceholder = "[EMAIL]"
	ipPlaceholder    = "[IP]"
	coordPlaceholder = "[COORD]"
)

// dedupLookahead caps how far ahead a single run is scanned, keeping the
// pass O(n) on pathological inputs.
const dedupLookahead = 1000

// dedupKeyPrefix is how much of the message participates in the run key.
const dedupKeyPrefix = 100

var crashKeywords = []string{"crash", "fatal", "exception", "sigabrt", "sigsegv", "tombstone"}
var memoryKeywords = []string{"outofmemory", "oom", "memory", "allocationfailed"}

// DefaultFilterTags are known noisy system tags dropped by default.
func DefaultFilterTags() map[string]struct{} {
	return map[string]struct{}{
		"chatty":   {},
		"Perflock": {},
		"QC-QMI":   {},
	}
}

// Config controls the preprocessing pipeline.
type Config struct {
	EnableDeduplication bool
	EnablePIIMasking    bool
	MinLevel            model.Level
	FilterTags          map[string]struct{}
}

// DefaultConfig keeps INFO and above, with dedup and masking on.
func DefaultConfig() Config {
	return Config{
		EnableDeduplication: true,
		EnablePIIMasking:    true,
		MinLevel:            model.LevelInfo,
		FilterTags:          DefaultFilterTags(),
	}
}

// Stats holds cumulative counters, for reporting only.
type Stats struct {
	TotalCount        int `json:"total_count"`
	FilteredCount     int `json:"filtered_count"`
	DeduplicatedCount int `json:"deduplicated_count"`
	MaskedCount       int `json:"masked_count"`
}

// Preprocessor applies level/tag filtering, PII masking, run deduplication
// and keyword annotation, in that fixed order.
type Preprocessor struct {
	cfg   Config
	stats Stats
}

func New(cfg Config) *Preprocessor {
	if cfg.FilterTags == nil {
		cfg.FilterTags = DefaultFilterTags()
	}
	return &Preprocessor{cfg: cfg}
}

// Process runs the full pipeline over the entry sequence. Entries are mutated
// in place (message rewrites); the returned slice is the surviving sequence.
func (p *Preprocessor) Process(entries []*model.LogEntry) []*model.LogEntry {
	p.stats.TotalCount = len(entries)
	log.Info().Int("count", len(entries)).Msg("Starting preprocessing")

	filtered := make([]*model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Level.AtLeast(p.cfg.MinLevel) {
			continue
		}
		if _, drop := p.cfg.FilterTags[e.Tag]; drop {
			continue
		}
		filtered = append(filtered, e)
	}
	p.stats.FilteredCount = len(entries) - len(filtered)

	if p.cfg.EnablePIIMasking {
		for _, e := range filtered {
			e.Message = p.maskPII(e.Message)
		}
	}

	deduplicated := p.deduplicate(filtered)

	for _, e := range deduplicated {
		annotate(e)
	}

	log.Info().
		Int("remaining", len(deduplicated)).
		Int("filtered", p.stats.FilteredCount).
		Int("deduplicated", p.stats.DeduplicatedCount).
		Int("masked", p.stats.MaskedCount).
		Msg("Preprocessing complete")
	return deduplicated
}

// Stats returns the cumulative counters.
func (p *Preprocessor) Stats() Stats {
	return p.stats
}

// maskPII replaces PII-like substrings with fixed placeholders. The counter
// increments once per pattern type matched, not per occurrence.
func (p *Preprocessor) maskPII(text string) string {
	masked := text
	if phonePattern.MatchString(masked) {
		masked = phonePattern.ReplaceAllString(masked, phonePlaceholder)
		p.stats.MaskedCount++
	}
	if emailPattern.MatchString(masked) {
		masked = emailPattern.ReplaceAllString(masked, emailPlaceholder)
		p.stats.MaskedCount++
	}
	if ipPattern.MatchString(masked) {
		masked = ipPattern.ReplaceAllString(masked, ipPlaceholder)
		p.stats.MaskedCount++
	}
	if coordPattern.MatchString(masked) {
		masked = coordPattern.ReplaceAllString(masked, coordPlaceholder)
		p.stats.MaskedCount++
	}
	return masked
}

// deduplicate collapses consecutive runs sharing the same (tag, message
// prefix) key. Runs longer than 3 keep only the first entry, suffixed with
// the repeat count, and the last. Single left-to-right pass bounded by the
// lookahead cap.
func (p *Preprocessor) deduplicate(entries []*model.LogEntry) []*model.LogEntry {
	if !p.cfg.EnableDeduplication || len(entries) < 2 {
		return entries
	}

	result := make([]*model.LogEntry, 0, len(entries))
	i := 0
	for i < len(entries) {
		current := entries[i]
		key := dedupKey(current)

		j := i + 1
		for j < len(entries) && j-i < dedupLookahead && dedupKey(entries[j]) == key {
			j++
		}
		runLength := j - i

		if runLength > 3 {
			current.Message = fmt.Sprintf("%s (repeated %d times)", current.Message, runLength)
			result = append(result, current, entries[j-1])
			p.stats.DeduplicatedCount += runLength - 2
		} else {
			result = append(result, entries[i:j]...)
		}
		i = j
	}

	return result
}

func dedupKey(e *model.LogEntry) string {
	msg := e.Message
	if len(msg) > dedupKeyPrefix {
		msg = msg[:dedupKeyPrefix]
	}
	return e.Tag + "\x00" + msg
}

// annotate prefixes the message with classification markers when trigger
// vocabulary is present. Multiple markers can stack.
func annotate(e *model.LogEntry) {
	lower := strings.ToLower(e.Message)

	if containsAny(lower, crashKeywords) {
		e.Message = "[CRASH] " + e.Message
	}
	if strings.Contains(lower, "anr") || strings.Contains(lower, "not responding") {
		e.Message = "[ANR] " + e.Message
	}
	// The memory check is punctuation/space-insensitive so "allocation failed"
	// and "out of memory" both trigger.
	squeezed := strings.ReplaceAll(lower, " ", "")
	if containsAny(squeezed, memoryKeywords) {
		e.Message = "[MEMORY] " + e.Message
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
