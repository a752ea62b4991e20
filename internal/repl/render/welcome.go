package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// WelcomeInfo contains information to display in the welcome screen.
type WelcomeInfo struct {
	// Version is the codex-bridge version string
	Version string
	// Model is the agent model sent in the session handshake
	Model string
	// Sandbox is the sandbox mode granted to agents
	Sandbox string
	// Scope is the scope new messages go to
	Scope string
}

// tips is the list of tips to display in the welcome screen.
// A "tip of the day" is selected based on the current date.
var tips = []string{
	"use /open <folder> to start a conversation rooted at a project folder",
	"use /use <folder> to switch between open scopes",
	"use /reset to start the current conversation over",
	"use /status to see every running agent",
	"conversations opened on a folder resume their session next time",
	"answer approval requests with y, a, n or x; an empty answer denies",
	"set log_level: debug in ~/.codex-bridge/codex.yaml for troubleshooting",
	"a .codex/codex.yaml in your project overrides user settings",
	"press Ctrl+D on an empty line to exit",
}

var logo = []string{
	"  ___ ___  __| |_____ __",
	" / __/ _ \\/ _` / -_) \\ /",
	" \\___\\___/\\__,_\\___/_\\_\\",
}

// getTipOfTheDay returns a tip based on the current date.
// The same tip is shown for the entire day, changing at midnight.
func getTipOfTheDay(now time.Time) string {
	if len(tips) == 0 {
		return ""
	}
	daysSinceEpoch := now.Year()*365 + int(now.Month())*31 + now.Day()
	return tips[daysSinceEpoch%len(tips)]
}

// RenderWelcome renders the welcome screen: logo on the left, configuration
// on the right, tip of the day below.
func (r *Renderer) RenderWelcome(info WelcomeInfo) {
	renderWelcome(r.writer, r.styles, info, r.getTerminalWidth(), r.now())
}

func renderWelcome(w io.Writer, s Styles, info WelcomeInfo, termWidth int, now time.Time) {
	titleStyle := s.Question
	logoStyle := s.ExecStart
	labelStyle := s.Dim
	valueStyle := s.ExecStart
	dimStyle := s.Dim.Italic(true)

	logoWidth := lipgloss.Width(logo[0])
	minGap := 4
	maxInfoWidth := 40

	var infoLines []string
	infoLines = append(infoLines, titleStyle.Render("codex bridge"))
	infoLines = append(infoLines, "")

	if info.Version != "" && info.Version != "dev" {
		infoLines = append(infoLines, labelStyle.Render("version: ")+valueStyle.Render(info.Version))
	} else if info.Version == "dev" {
		infoLines = append(infoLines, labelStyle.Render("version: ")+dimStyle.Render("development"))
	}
	if info.Model != "" {
		infoLines = append(infoLines, labelStyle.Render("model:   ")+valueStyle.Render(info.Model))
	} else {
		infoLines = append(infoLines, labelStyle.Render("model:   ")+dimStyle.Render("not configured"))
	}
	if info.Sandbox != "" {
		infoLines = append(infoLines, labelStyle.Render("sandbox: ")+valueStyle.Render(info.Sandbox))
	}
	if info.Scope != "" {
		infoLines = append(infoLines, labelStyle.Render("scope:   ")+valueStyle.Render(info.Scope))
	}

	tip := getTipOfTheDay(now)
	infoWidth := min(termWidth-logoWidth-minGap, maxInfoWidth)

	if infoWidth < 20 {
		// Terminal too narrow, just show info without logo
		for _, line := range infoLines {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
		if tip != "" {
			fmt.Fprintln(w, dimStyle.Render("tip: "+tip))
		}
		fmt.Fprintln(w)
		return
	}

	var output strings.Builder
	output.WriteString("\n")

	numLines := max(len(logo), len(infoLines))
	gap := strings.Repeat(" ", minGap)
	for i := 0; i < numLines; i++ {
		logoLine := strings.Repeat(" ", logoWidth)
		if i < len(logo) {
			logoLine = logoStyle.Render(logo[i])
		}
		var infoLine string
		if i < len(infoLines) {
			infoLine = infoLines[i]
		}
		output.WriteString(strings.TrimRight(logoLine+gap+infoLine, " ") + "\n")
	}

	output.WriteString("\n")
	if tip != "" {
		output.WriteString(dimStyle.Render("tip: "+tip) + "\n")
	}
	output.WriteString("\n")

	fmt.Fprint(w, output.String())
}
