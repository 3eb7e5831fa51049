// Package fingerprint computes stable identities for error occurrences.
// Two events with the same service, error type, stack shape, and message
// shape fingerprint identically no matter how their timestamps, ids, or
// addresses differ.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/sleuth/internal/event"
)

// Placeholder replaces every variable substring in a templatized message.
const Placeholder = "<*>"

// hashLen is the truncated hex length of fingerprints and stack hashes.
const hashLen = 16

// Result carries the three derived identity values for one event.
type Result struct {
	Fingerprint     string
	StackHash       string
	MessageTemplate string
}

// Ordering matters: the date/time patterns must run before the IPv6
// pattern chews through hh:mm:ss, and every address pattern must run
// before the bare numeric pattern eats the port or octets.
var templateRules = []*regexp.Regexp{
	// IPv4, optionally with a :port suffix
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`),
	// ISO-ish date/time substrings
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?\b`),
	regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(?:\.\d+)?\b`),
	// IPv6 in full form (two or more colon-separated hex groups)
	regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{0,4}\b`),
	// host:port suffix
	regexp.MustCompile(`\b[a-zA-Z][\w.-]*:\d{2,5}\b`),
	// UUID, case-insensitive
	regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`),
	// numeric ids
	regexp.MustCompile(`\b\d+\b`),
}

// TemplatizeMessage replaces addresses, host:port suffixes, UUIDs,
// numeric ids, and date/time substrings with Placeholder. Every rule is
// applied globally, so repeated occurrences in one message all collapse.
func TemplatizeMessage(msg string) string {
	out := msg
	for _, re := range templateRules {
		out = re.ReplaceAllString(out, Placeholder)
	}
	return out
}

// NormalizeFrames reduces stack frames to module+function, dropping
// line numbers so ordinary code churn does not split signatures.
func NormalizeFrames(frames []event.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Module+"."+f.Function)
	}
	return out
}

// Compute derives the fingerprint, stack hash, and message template for
// an event. Pure; the only failure mode is an event that is already
// invalid (empty service or error type).
func Compute(ev event.ErrorEvent) (Result, error) {
	if ev.Service == "" || ev.ErrorType == "" {
		return Result{}, fmt.Errorf("fingerprint: event missing service or error type")
	}

	frames := NormalizeFrames(ev.Frames)
	template := TemplatizeMessage(ev.Message)

	return Result{
		Fingerprint:     digest(ev.Service, ev.ErrorType, strings.Join(frames, "\n"), template),
		StackHash:       digest(strings.Join(frames, "\n")),
		MessageTemplate: template,
	}, nil
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:hashLen]
}
