package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Builtin leaf renderers. The core never special-cases these; they are
// ordinary registrations the preview host installs through the bulk
// discovery path, and a hosting application can replace any of them.

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dividerStyle = lipgloss.NewStyle().Faint(true)
	shellStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Heading renders a heading descriptor: props {text, level}.
func Heading(_ context.Context, rc Context) (string, error) {
	text, _ := rc.Props["text"].(string)
	level := 1
	if l, ok := rc.Props["level"].(float64); ok && l >= 1 && l <= 6 {
		level = int(l)
	}
	return headingStyle.Render(strings.Repeat("#", level) + " " + text), nil
}

// Text renders a plain text descriptor: props {text}.
func Text(_ context.Context, rc Context) (string, error) {
	text, _ := rc.Props["text"].(string)
	return text, nil
}

// Divider renders a horizontal rule.
func Divider(_ context.Context, rc Context) (string, error) {
	width := 24
	if w, ok := rc.Props["width"].(float64); ok && w > 0 {
		width = int(w)
	}
	return dividerStyle.Render(strings.Repeat("─", width)), nil
}

// Image renders an image descriptor as its alt text plus source.
func Image(_ context.Context, rc Context) (string, error) {
	alt, _ := rc.Props["alt"].(string)
	src, _ := rc.Props["src"].(string)
	if alt == "" {
		alt = "image"
	}
	return fmt.Sprintf("[%s] %s", alt, src), nil
}

// Section renders its projected children as a block, one per line.
func Section(_ context.Context, rc Context) (string, error) {
	return rc.Children, nil
}

// PageShell is the layout implementation that wraps the remainder of
// the page. The composition layer projects the page body into Children.
func PageShell(_ context.Context, rc Context) (string, error) {
	title, _ := rc.Props["title"].(string)
	body := rc.Children
	if title != "" {
		body = headingStyle.Render(title) + "\n" + body
	}
	return shellStyle.Render(body), nil
}

// markdownRenderer wraps glamour. Construction can fail (style load),
// so it lives behind a loader and failures are retried on the next
// resolve rather than cached.
type markdownRenderer struct {
	term *glamour.TermRenderer
}

// NewMarkdown builds the markdown leaf renderer.
func NewMarkdown(width int, style string) (Renderer, error) {
	if style == "" {
		style = "dark"
	}
	term, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &markdownRenderer{term: term}, nil
}

func (m *markdownRenderer) Render(_ context.Context, rc Context) (string, error) {
	body, _ := rc.Props["body"].(string)
	out, err := m.term.Render(body)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}
