// Package cli provides CLI output utilities for Kagami.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/kagami/internal/syncer"
)

// Format is the output format for command results.
type Format string

const (
	// FormatText is human-readable text (default).
	FormatText Format = "text"
	// FormatJSON is structured JSON for machine consumption.
	FormatJSON Format = "json"
)

// Status is the shape of the direct status command output.
type Status struct {
	Documents    int64  `json:"documents"`
	CacheEntries int    `json:"cache_entries"`
	Table        string `json:"table"`
	Backend      string `json:"backend"`
}

// WriteStats writes full-pass stats to w in the given format.
func WriteStats(w io.Writer, stats syncer.Stats, format Format) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, stats)
	case FormatText, "":
		fmt.Fprintf(w, "created:  %d\n", stats.Created)
		fmt.Fprintf(w, "updated:  %d\n", stats.Updated)
		fmt.Fprintf(w, "deleted:  %d\n", stats.Deleted)
		fmt.Fprintf(w, "skipped:  %d\n", stats.Skipped)
		fmt.Fprintf(w, "failed:   %d\n", stats.Failed)
		return nil
	default:
		return fmt.Errorf("unknown output format %q; use text or json", format)
	}
}

// WriteStatus writes the direct-store status to w.
func WriteStatus(w io.Writer, status Status, format Format) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, status)
	case FormatText, "":
		fmt.Fprintf(w, "documents:      %d\n", status.Documents)
		fmt.Fprintf(w, "cache_entries:  %d\n", status.CacheEntries)
		fmt.Fprintf(w, "table:          %s (%s)\n", status.Table, status.Backend)
		return nil
	default:
		return fmt.Errorf("unknown output format %q; use text or json", format)
	}
}

// WriteRawStatus writes a status server response to w. Text output prints
// one top-level field per line in key order.
func WriteRawStatus(w io.Writer, body map[string]interface{}, format Format) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, body)
	case FormatText, "":
		for _, key := range sortedKeys(body) {
			fmt.Fprintf(w, "%s: %v\n", key, body[key])
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q; use text or json", format)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
