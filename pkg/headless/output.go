package headless

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	partnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Output handles console output for headless mode
type Output struct{}

// NewOutput creates a new output handler
func NewOutput() *Output {
	return &Output{}
}

// Token prints a streamed token without a trailing newline
func (o *Output) Token(text string) {
	fmt.Print(text)
}

// PartnerDraft prints a drafted partner message as a distinct block
func (o *Output) PartnerDraft(text string) {
	fmt.Println()
	fmt.Println(partnerStyle.Render("→ draft for partner: " + text))
}

// ToolActivity prints tool start/stop notices
func (o *Output) ToolActivity(name string, running bool) {
	if running {
		if name == "" {
			name = "tool"
		}
		fmt.Println(toolStyle.Render("[" + name + " running...]"))
		return
	}
	fmt.Println(toolStyle.Render("[tool finished]"))
}

// Error prints an error notice to stderr
func (o *Output) Error(msg string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+msg))
}
