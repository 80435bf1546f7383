// Package presenter renders the chat session in a terminal.
package presenter

import (
	"errors"
	"fmt"
	"io"
	"strings"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/charmbracelet/lipgloss"
)

// Renderer turns display messages and session views into terminal text.
// Colours are only emitted when the output is a terminal.
type Renderer struct {
	user    lipgloss.Style
	bot     lipgloss.Style
	pending lipgloss.Style
	errored lipgloss.Style
	muted   lipgloss.Style
	title   lipgloss.Style
}

func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)

	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return &Renderer{
		user:    r.NewStyle().Foreground(blue).Bold(true),
		bot:     r.NewStyle().Foreground(mint).Bold(true),
		pending: r.NewStyle().Foreground(muted).Italic(true),
		errored: r.NewStyle().Foreground(pink).Bold(true),
		muted:   r.NewStyle().Foreground(muted),
		title:   r.NewStyle().Foreground(mint).Bold(true).Underline(true),
	}
}

// Message renders one display message on a single logical line.
func (r *Renderer) Message(m ports.DisplayMessage) string {
	switch {
	case m.Sender == ports.SenderUser:
		return r.user.Render("You:") + " " + m.Content
	case m.IsPending:
		return r.bot.Render("Assistant:") + " " + r.pending.Render("consulting the analytics tools...")
	case m.Errored():
		return r.errored.Render("Error:") + " " + m.ErrorDetail
	default:
		return r.bot.Render("Assistant:") + " " + m.Content
	}
}

// Banner is printed when an interactive session starts.
func (r *Renderer) Banner() string {
	var b strings.Builder
	b.WriteString(r.title.Render("Journey Chat"))
	b.WriteString("\n")
	b.WriteString(r.muted.Render("Ask about your marketing journeys. Type /help for commands."))
	return b.String()
}

// Blocked is the static notice shown instead of a session when configuration is incomplete.
func (r *Renderer) Blocked(err error) string {
	var cfgErr *ports.ConfigurationError
	var b strings.Builder
	b.WriteString(r.errored.Render("Journey Chat is not configured."))
	b.WriteString("\n")
	if errors.As(err, &cfgErr) {
		for _, p := range cfgErr.Problems {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	} else if err != nil {
		fmt.Fprintf(&b, "  - %s\n", err)
	}
	b.WriteString(r.muted.Render("Set the values in the config file or the JOURNEYCHAT_* environment variables and restart."))
	return b.String()
}

// Tools lists the catalog.
func (r *Renderer) Tools(names []string) string {
	if len(names) == 0 {
		return r.muted.Render("No tools available.")
	}
	var b strings.Builder
	b.WriteString(r.title.Render(fmt.Sprintf("Available tools (%d)", len(names))))
	for _, n := range names {
		b.WriteString("\n  ")
		b.WriteString(n)
	}
	return b.String()
}

// History renders the model-facing turns for /history.
func (r *Renderer) History(turns []ports.ConversationTurn) string {
	if len(turns) == 0 {
		return r.muted.Render("History is empty.")
	}
	lines := make([]string, 0, len(turns))
	for i, t := range turns {
		var label string
		switch {
		case t.Role == ports.RoleToolResult:
			label = fmt.Sprintf("[%s %s]", t.Role, t.ToolName)
		case t.Request != nil:
			label = fmt.Sprintf("[%s -> %s]", t.Role, t.Request.ToolName)
		default:
			label = fmt.Sprintf("[%s]", t.Role)
		}
		content := t.Content
		if t.Request != nil {
			content = strings.TrimSpace(strings.Join([]string{t.Content, t.Request.RawArguments}, " "))
		}
		lines = append(lines, fmt.Sprintf("%2d %s %s", i+1, r.muted.Render(label), content))
	}
	return strings.Join(lines, "\n")
}

// Help lists the slash commands.
func (r *Renderer) Help(commands []command) string {
	var b strings.Builder
	b.WriteString(r.title.Render("Commands"))
	for _, c := range commands {
		fmt.Fprintf(&b, "\n  %-10s %s", c.name, r.muted.Render(c.help))
	}
	b.WriteString("\n")
	b.WriteString(r.muted.Render("Commands may be abbreviated, e.g. /t for /tools."))
	return b.String()
}

// Notice renders a short informational line.
func (r *Renderer) Notice(text string) string {
	return r.muted.Render(text)
}

// Failure renders a command failure.
func (r *Renderer) Failure(err error) string {
	return r.errored.Render("Error:") + " " + ports.Summarize(err)
}
