package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/ui"
)

// helpStyle colors the parts of cobra's help text matched by re. The style
// applies to the submatch at index group, or to the whole match when group
// is 0; the surrounding text is kept as is.
type helpStyle struct {
	re     *regexp.Regexp
	group  int
	render func(string) string
}

var helpStyles = []helpStyle{
	// Group and section headers: "Events:", "Flags:".
	{regexp.MustCompile(`(?m)^[A-Z][^\n]*:$`), 0, ui.RenderAccent},
	// Command names in command lists.
	{regexp.MustCompile(`(?m)^  (\S+)  `), 1, ui.RenderCommand},
	// Flag value types: "--from string", "--page-size int".
	{regexp.MustCompile(`--?\S+\s+(string|int|duration|stringArray)\b`), 1, ui.RenderMuted},
	{regexp.MustCompile(`\(default "[^"]*"\)`), 0, ui.RenderMuted},
}

func (h helpStyle) apply(s string) string {
	return h.re.ReplaceAllStringFunc(s, func(match string) string {
		if h.group == 0 {
			return h.render(match)
		}
		loc := h.re.FindStringSubmatchIndex(match)
		start, end := loc[2*h.group], loc[2*h.group+1]
		return match[:start] + h.render(match[start:end]) + match[end:]
	})
}

func colorizeHelpOutput(s string) string {
	for _, h := range helpStyles {
		s = h.apply(s)
	}
	return s
}

// colorizedHelpFunc renders cobra's usage text, colored when stdout is a
// color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		out := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}
