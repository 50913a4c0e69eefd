// Package echo holds the payload transform of the echo processor.
package echo

import (
	"slices"
	"strings"
)

// Version is reported as part of every echoed message.
const Version = "v2.1"

// Transform upper-cases and reverses message. It is deterministic.
func Transform(message string) string {
	runes := []rune(strings.ToUpper(message))
	slices.Reverse(runes)
	return "ECHO " + Version + ": " + string(runes)
}
