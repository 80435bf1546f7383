package presenter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/journey-chat/jchat/harness"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
)

// Session is the part of the orchestrator the REPL drives.
type Session interface {
	Submit(ctx context.Context, text string) (*harness.TurnResult, error)
	RefreshCatalog(ctx context.Context) ([]string, error)
	Catalog() []string
	History() []ports.ConversationTurn
	Reset() error
	Blocked() error
	OnMessage(fn func(ports.DisplayMessage))
}

// ErrAmbiguousCommand is returned when a command prefix matches more than one command.
var ErrAmbiguousCommand = errors.New("ambiguous command")

// errQuit ends the loop.
var errQuit = errors.New("quit")

type command struct {
	name string
	help string
	run  func(ctx context.Context, r *REPL) error
}

func defaultCommands() []command {
	return []command{
		{name: "/help", help: "show this help", run: func(_ context.Context, r *REPL) error {
			r.println(r.render.Help(r.list))
			return nil
		}},
		{name: "/tools", help: "list the tools the assistant can use", run: func(ctx context.Context, r *REPL) error {
			names := r.session.Catalog()
			if names == nil {
				var err error
				if names, err = r.session.RefreshCatalog(ctx); err != nil {
					return err
				}
			}
			r.println(r.render.Tools(names))
			return nil
		}},
		{name: "/refresh", help: "reload the tool catalog from the tool host", run: func(ctx context.Context, r *REPL) error {
			names, err := r.session.RefreshCatalog(ctx)
			if err != nil {
				return err
			}
			r.println(r.render.Notice(fmt.Sprintf("Catalog reloaded: %d tools.", len(names))))
			return nil
		}},
		{name: "/history", help: "show the conversation as sent to the model", run: func(_ context.Context, r *REPL) error {
			r.println(r.render.History(r.session.History()))
			return nil
		}},
		{name: "/reset", help: "start a new conversation", run: func(_ context.Context, r *REPL) error {
			if err := r.session.Reset(); err != nil {
				return err
			}
			r.println(r.render.Notice("Conversation cleared."))
			return nil
		}},
		{name: "/quit", help: "leave the chat", run: func(context.Context, *REPL) error {
			return errQuit
		}},
	}
}

// REPL is the interactive terminal front end of a session.
type REPL struct {
	session  Session
	in       io.Reader
	out      io.Writer
	render   *Renderer
	list     []command
	commands *radix.Tree
	logger   zerolog.Logger
}

func NewREPL(session Session, in io.Reader, out io.Writer, logger zerolog.Logger) *REPL {
	list := defaultCommands()
	tree := radix.New()
	for _, c := range list {
		tree.Insert(c.name, c)
	}
	tree.Insert("/exit", list[len(list)-1])

	r := &REPL{
		session:  session,
		in:       in,
		out:      out,
		render:   NewRenderer(out),
		list:     list,
		commands: tree,
		logger:   logger,
	}
	session.OnMessage(r.show)
	return r
}

// Run reads lines until EOF, /quit or ctx is done. A blocked session prints
// the configuration notice and returns its error without reading input.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.session.Blocked(); err != nil {
		r.println(r.render.Blocked(err))
		return err
	}

	r.println(r.render.Banner())
	scanner := bufio.NewScanner(r.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.print("> ")
		if !scanner.Scan() {
			r.println("")
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			err := r.dispatch(ctx, line)
			if errors.Is(err, errQuit) {
				r.println(r.render.Notice("Goodbye!"))
				return nil
			}
			if err != nil {
				r.println(r.render.Failure(err))
			}
			continue
		}

		if _, err := r.session.Submit(ctx, line); err != nil && !errors.Is(err, harness.ErrEmptyMessage) {
			r.println(r.render.Failure(err))
		}
	}
}

// Resolve finds the command named by input or by an unambiguous prefix of it.
func (r *REPL) Resolve(input string) (string, error) {
	name := strings.ToLower(strings.Fields(input)[0])
	if c, ok := r.commands.Get(name); ok {
		return c.(command).name, nil
	}

	var matches []string
	r.commands.WalkPrefix(name, func(key string, v any) bool {
		matches = append(matches, v.(command).name)
		return false
	})
	matches = dedupe(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("unknown command %s, try /help", name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w %s: %s", ErrAmbiguousCommand, name, strings.Join(matches, ", "))
	}
}

func (r *REPL) dispatch(ctx context.Context, line string) error {
	name, err := r.Resolve(line)
	if err != nil {
		return err
	}
	c, _ := r.commands.Get(name)
	r.logger.Debug().Str("command", name).Msg("repl command")
	return c.(command).run(ctx, r)
}

// show prints bot transitions; user lines are already on screen.
func (r *REPL) show(m ports.DisplayMessage) {
	if m.Sender == ports.SenderUser {
		return
	}
	r.println(r.render.Message(m))
}

func (r *REPL) print(s string) {
	_, _ = io.WriteString(r.out, s)
}

func (r *REPL) println(s string) {
	_, _ = io.WriteString(r.out, s+"\n")
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
