package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/docpilot/docpilot/internal/provision"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// Console prints human-readable progress. Existing entities are only listed
// when Verbose is set.
type Console struct {
	w       io.Writer
	Verbose bool

	lastStep    provision.Step
	lastPending int
}

// NewConsole returns a console reporter writing to w.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, Verbose: verbose}
}

func (c *Console) StepStarted(step provision.Step, subject string) {
	if step == c.lastStep && step != provision.StepDatabase {
		return
	}
	c.lastStep = step
	fmt.Fprintln(c.w, titleStyle.Render(capitalize(string(step))))
}

func (c *Console) Created(step provision.Step, subject string) {
	fmt.Fprintf(c.w, "  %s %s\n", successStyle.Render("+"), subject)
}

func (c *Console) Existing(step provision.Step, subject string) {
	if c.Verbose {
		fmt.Fprintf(c.w, "  %s\n", dimStyle.Render("= "+subject+" (exists)"))
	}
}

func (c *Console) Warning(subject, message string) {
	fmt.Fprintf(c.w, "  %s\n", warnStyle.Render("! "+subject+": "+message))
}

func (c *Console) Waiting(pending []string, elapsed time.Duration) {
	if len(pending) == c.lastPending {
		return
	}
	c.lastPending = len(pending)
	fmt.Fprintf(c.w, "  %s\n", dimStyle.Render(fmt.Sprintf("waiting for %d attributes (%s)", len(pending), elapsed.Round(100*time.Millisecond))))
}

func (c *Console) Failed(err *provision.StepError) {
	fmt.Fprintln(c.w, errStyle.Render("✗ "+err.Error()))
}

func (c *Console) Finished(res *provision.Result) {
	fmt.Fprintln(c.w)
	fmt.Fprint(c.w, FormatText(res))
	fmt.Fprintln(c.w, successStyle.Render(fmt.Sprintf("✓ %d entities created", res.CreatedCount())))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
