package report

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/charmbracelet/lipgloss"
)

var (
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	stringStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	numberStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("215"))
	literalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	commentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// HighlightYAML colours a YAML document for the terminal. It returns src
// unchanged when the lexer fails.
func HighlightYAML(src string) string {
	l := lexers.Get("yaml")
	if l == nil {
		return src
	}
	iter, err := chroma.Coalesce(l).Tokenise(nil, src)
	if err != nil {
		return src
	}

	var b strings.Builder
	b.Grow(len(src) * 2)
	for _, tok := range iter.Tokens() {
		if tok.Value == "" {
			continue
		}
		style, ok := yamlStyle(tok.Type)
		if !ok {
			b.WriteString(tok.Value)
			continue
		}
		// Newlines stay unstyled so each line renders on its own.
		lines := strings.Split(tok.Value, "\n")
		for i, line := range lines {
			if line != "" {
				b.WriteString(style.Render(line))
			}
			if i < len(lines)-1 {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

func yamlStyle(tt chroma.TokenType) (lipgloss.Style, bool) {
	switch {
	case tt.InCategory(chroma.Comment):
		return commentStyle, true
	case tt.InCategory(chroma.Keyword):
		return literalStyle, true
	case tt.InCategory(chroma.Name):
		return keyStyle, true
	case tt.InSubCategory(chroma.LiteralNumber):
		return numberStyle, true
	case tt.InSubCategory(chroma.LiteralString):
		return stringStyle, true
	}
	return lipgloss.Style{}, false
}
