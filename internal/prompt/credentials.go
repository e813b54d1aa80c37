// Package prompt asks the operator for Appwrite credentials in the terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrCancelled is returned when the operator leaves the form.
var ErrCancelled = errors.New("cancelled")

// Credentials are the values collected by the form.
type Credentials struct {
	Endpoint  string
	ProjectID string
	APIKey    string
}

// VerifyFunc checks credentials before the form closes, typically by
// reaching the server. A nil VerifyFunc accepts anything complete.
type VerifyFunc func(ctx context.Context, c Credentials) error

// field indexes
const (
	fieldEndpoint = iota
	fieldProject
	fieldAPIKey
	fieldCount
)

var fieldLabels = [fieldCount]string{"Endpoint", "Project ID", "API key"}

// CredentialsModel is the bubbletea model for the credentials form.
type CredentialsModel struct {
	inputs    []textinput.Model
	focused   int
	verify    VerifyFunc
	timeout   time.Duration
	verifying bool
	spinner   spinner.Model
	err       error
	result    *Credentials
	done      bool
}

type verifyDoneMsg struct {
	creds Credentials
	err   error
}

// NewCredentialsModel builds the form prefilled with initial. Focus starts
// on the first empty field.
func NewCredentialsModel(initial Credentials, verify VerifyFunc) CredentialsModel {
	inputs := make([]textinput.Model, fieldCount)

	inputs[fieldEndpoint] = textinput.New()
	inputs[fieldEndpoint].Placeholder = "https://cloud.appwrite.io/v1"
	inputs[fieldEndpoint].CharLimit = 512
	inputs[fieldEndpoint].SetValue(initial.Endpoint)

	inputs[fieldProject] = textinput.New()
	inputs[fieldProject].Placeholder = "project id"
	inputs[fieldProject].CharLimit = 64
	inputs[fieldProject].SetValue(initial.ProjectID)

	inputs[fieldAPIKey] = textinput.New()
	inputs[fieldAPIKey].EchoMode = textinput.EchoPassword
	inputs[fieldAPIKey].EchoCharacter = '*'
	inputs[fieldAPIKey].CharLimit = 1024
	inputs[fieldAPIKey].SetValue(initial.APIKey)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = highlightStyle

	m := CredentialsModel{
		inputs:  inputs,
		verify:  verify,
		timeout: 30 * time.Second,
		spinner: s,
	}
	for i := range inputs {
		if strings.TrimSpace(inputs[i].Value()) == "" {
			m.focused = i
			break
		}
	}
	m.inputs[m.focused].Focus()
	return m
}

func (m CredentialsModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m CredentialsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = ErrCancelled
			return m, tea.Quit
		}
		if m.verifying {
			return m, nil
		}

		switch msg.String() {
		case "esc":
			m.done = true
			m.err = ErrCancelled
			return m, tea.Quit

		case "tab", "down":
			m.focused = (m.focused + 1) % fieldCount
			return m, m.updateFocus()

		case "shift+tab", "up":
			m.focused = (m.focused + fieldCount - 1) % fieldCount
			return m, m.updateFocus()

		case "enter":
			if m.focused < fieldCount-1 {
				m.focused++
				return m, m.updateFocus()
			}
			return m, m.submit()
		}

	case verifyDoneMsg:
		m.verifying = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.result = &msg.creds
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		if m.verifying {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if !m.verifying {
		var cmd tea.Cmd
		m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m CredentialsModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Appwrite connection") + "\n\n")

	for i := 0; i < fieldCount; i++ {
		cursor := "  "
		if i == m.focused {
			cursor = highlightStyle.Render("> ")
		}
		label := fmt.Sprintf("  %-11s ", fieldLabels[i])
		b.WriteString(cursor + dimStyle.Render(label) + m.inputs[i].View() + "\n")
	}
	b.WriteString("\n")

	switch {
	case m.verifying:
		b.WriteString(fmt.Sprintf("  %s Connecting to Appwrite...\n", m.spinner.View()))
	case m.err != nil && !errors.Is(m.err, ErrCancelled):
		b.WriteString(errStyle.Render("  "+m.err.Error()) + "\n")
		b.WriteString(dimStyle.Render("  Fix the issue and press Enter to retry\n"))
	default:
		b.WriteString(dimStyle.Render("  Press Enter on API key to connect • tab/shift-tab to navigate • esc to cancel\n"))
	}
	return b.String()
}

// Result returns the accepted credentials, or nil if not completed.
func (m CredentialsModel) Result() *Credentials {
	return m.result
}

// Done returns true if the model has finished (success or cancelled).
func (m CredentialsModel) Done() bool {
	return m.done
}

// Err is the last validation or verification error.
func (m CredentialsModel) Err() error {
	return m.err
}

func (m *CredentialsModel) updateFocus() tea.Cmd {
	cmds := make([]tea.Cmd, fieldCount)
	for i := range m.inputs {
		if i == m.focused {
			cmds[i] = m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
	return tea.Batch(cmds...)
}

func (m CredentialsModel) values() Credentials {
	return Credentials{
		Endpoint:  strings.TrimSpace(m.inputs[fieldEndpoint].Value()),
		ProjectID: strings.TrimSpace(m.inputs[fieldProject].Value()),
		APIKey:    strings.TrimSpace(m.inputs[fieldAPIKey].Value()),
	}
}

// Check reports the first missing value.
func (c Credentials) Check() error {
	switch {
	case c.Endpoint == "":
		return errors.New("Endpoint is required")
	case !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://"):
		return errors.New("Endpoint must start with http:// or https://")
	case c.ProjectID == "":
		return errors.New("Project ID is required")
	case c.APIKey == "":
		return errors.New("API key is required")
	}
	return nil
}

func (m *CredentialsModel) submit() tea.Cmd {
	creds := m.values()
	if err := creds.Check(); err != nil {
		m.err = err
		return nil
	}
	if m.verify == nil {
		return func() tea.Msg { return verifyDoneMsg{creds: creds} }
	}

	m.verifying = true
	m.err = nil
	verify, timeout := m.verify, m.timeout
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return verifyDoneMsg{creds: creds, err: verify(ctx, creds)}
		},
	)
}

// Run shows the form on in/out until the operator submits working
// credentials or cancels.
func Run(ctx context.Context, initial Credentials, verify VerifyFunc, in io.Reader, out io.Writer) (Credentials, error) {
	p := tea.NewProgram(NewCredentialsModel(initial, verify),
		tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return Credentials{}, fmt.Errorf("running credentials form: %w", err)
	}
	m := final.(CredentialsModel)
	if m.Result() == nil {
		return Credentials{}, ErrCancelled
	}
	return *m.Result(), nil
}

// styles
var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)
