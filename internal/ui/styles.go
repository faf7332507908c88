// Package ui renders terminal output for the evlog CLI.
package ui

import (
	"fmt"
	"sync/atomic"
)

// ANSI 256 colors.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorFail   = 167 // red
)

var noColor atomic.Bool

func render(color int, s string) string {
	if noColor.Load() || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent styles headers and topics.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted styles secondary details such as timestamps and totals.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand styles a command name in help output.
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderFail styles counts of failed operations.
func RenderFail(s string) string { return render(colorFail, s) }

// ForceNoColor disables color output for the rest of the process.
func ForceNoColor() {
	noColor.Store(true)
}
