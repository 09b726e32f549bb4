package util

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sierrasoftworks/humane-errors-go"
)

const (
	ColorCritical = lipgloss.Color("#cc0000")
	ColorWarning  = lipgloss.Color("#e69138")
	ColorOk       = lipgloss.Color("#04B575")
	ColorUnknown  = lipgloss.Color("#68228B")
)

func OkStyle(_ []any) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorOk)
}

func UnknownStyle(_ []any) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorUnknown)
}

// KeyValuePair is one line of status output. Style picks the value color from Value.
type KeyValuePair struct {
	Key    string
	Format string
	Value  []any
	Style  func([]any) lipgloss.Style
}

var keyStyle = lipgloss.NewStyle().Bold(true)

// PrintKeyValues renders pairs as an aligned two column block.
func PrintKeyValues(pairs []KeyValuePair) string {
	width := 0
	for _, kv := range pairs {
		width = max(width, lipgloss.Width(kv.Key))
	}

	var sb strings.Builder
	for i, kv := range pairs {
		style := lipgloss.NewStyle()
		if kv.Style != nil {
			style = kv.Style(kv.Value)
		}

		key := keyStyle.Width(width + 1).Render(kv.Key + ":")
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, key, " ", style.Render(fmt.Sprintf(kv.Format, kv.Value...))))
		if i < len(pairs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

var (
	errorStyle = lipgloss.NewStyle().Foreground(ColorCritical).Bold(true)
)

// PrintError writes err for an operator. Humane errors are rendered in full, with the
// advice and cause chain of every wrapped level.
func PrintError(w io.Writer, err error) {
	msg := err.Error()

	var herr humane.Error
	if errors.As(err, &herr) {
		msg = herr.Display()
	}
	fmt.Fprintln(w, errorStyle.Render("Error: ")+msg)
}
