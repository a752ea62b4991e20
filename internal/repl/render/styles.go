// Package render draws agent events and host status for the terminal REPL.
package render

import (
	"github.com/charmbracelet/lipgloss"
)

// ANSI colors
const (
	ColorCyan   = lipgloss.Color("12") // Scope header/footer
	ColorYellow = lipgloss.Color("11") // Pending work and approval questions
	ColorGreen  = lipgloss.Color("10") // Success indicator
	ColorRed    = lipgloss.Color("9")  // Error indicator
	ColorGray   = lipgloss.Color("8")  // Dim/secondary (reasoning, output, timing)
)

// Symbols
const (
	SymbolExec          = "▶" // Command start
	SymbolToolPending   = "○" // Patch or tool call in progress
	SymbolToolComplete  = "●" // Patch or tool call finished
	SymbolSuccess       = "✓"
	SymbolError         = "✗"
	SymbolSystemMessage = "→"
	SymbolQuestion      = "?" // Approval request
)

// Styles are bound to one lipgloss renderer so color output follows the
// writer they print to.
type Styles struct {
	Header        lipgloss.Style
	ExecStart     lipgloss.Style
	ToolPending   lipgloss.Style
	Success       lipgloss.Style
	Error         lipgloss.Style
	Dim           lipgloss.Style
	SystemMessage lipgloss.Style
	Question      lipgloss.Style
}

func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Header:        r.NewStyle().Foreground(ColorCyan),
		ExecStart:     r.NewStyle().Foreground(ColorYellow),
		ToolPending:   r.NewStyle().Foreground(ColorYellow),
		Success:       r.NewStyle().Foreground(ColorGreen),
		Error:         r.NewStyle().Foreground(ColorRed),
		Dim:           r.NewStyle().Foreground(ColorGray),
		SystemMessage: r.NewStyle().Foreground(ColorGray),
		Question:      r.NewStyle().Foreground(ColorYellow).Bold(true),
	}
}

// Symbol returns symbol with the style it is drawn in.
func (s Styles) Symbol(symbol string, success bool) string {
	switch symbol {
	case SymbolExec:
		return s.ExecStart.Render(symbol)
	case SymbolToolPending:
		return s.ToolPending.Render(symbol)
	case SymbolToolComplete:
		if success {
			return s.Success.Render(symbol)
		}
		return s.Error.Render(symbol)
	case SymbolSuccess:
		return s.Success.Render(symbol)
	case SymbolError:
		return s.Error.Render(symbol)
	case SymbolSystemMessage:
		return s.SystemMessage.Render(symbol)
	case SymbolQuestion:
		return s.Question.Render(symbol)
	default:
		return symbol
	}
}
