package render

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	skeletonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}).
			Faint(true)

	unknownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}).
			Border(lipgloss.NormalBorder()).
			Padding(0, 1)

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}).
			Border(lipgloss.DoubleBorder()).
			Padding(0, 1)

	pageErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}).
			Bold(true)
)

// Skeleton is the lightweight placeholder shown while an implementation
// is still loading. Deliberately low-contrast so a pending resolve does
// not flash.
func Skeleton() string {
	return skeletonStyle.Render("░░░")
}

// Unknown is the bounded placeholder for a type the registry cannot
// produce. It carries the type name so a bad descriptor is visible
// without blanking anything else.
func Unknown(typeName string) string {
	if typeName == "" {
		typeName = "(untyped)"
	}
	return unknownStyle.Render(fmt.Sprintf("Unknown component: %s", typeName))
}

// Failure is the visually distinct error view for an implementation
// that failed to render after retries ran out.
func Failure(typeName string, err error) string {
	msg := fmt.Sprintf("Component %q failed to render", typeName)
	if err != nil {
		msg += ": " + err.Error()
	}
	return failureStyle.Render(msg)
}

// NotFoundPage is the explicit terminal state for a route with no
// matching page.
func NotFoundPage(slug string) string {
	return pageErrorStyle.Render(fmt.Sprintf("Page not found: %s", slug))
}

// ErrorPage is the whole-application error state shown only when a
// failure propagates past every isolation boundary.
func ErrorPage(err error) string {
	msg := "Something went wrong"
	if err != nil {
		msg += ": " + err.Error()
	}
	return pageErrorStyle.Render(msg + "\nReload the page or return home.")
}

// Busy overlays a processing indicator on a node that a remote editor
// is modifying.
func Busy(view string) string {
	return skeletonStyle.Render("… processing …") + "\n" + view
}
