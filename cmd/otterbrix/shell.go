package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var shellConnect connectFlags

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive SQL shell",
	Long: `Start an interactive SQL shell. Statements end with a semicolon; "exit"
or ctrl+d leaves the shell. When standard input is not a terminal,
statements are read line by line and results printed as they complete.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		q, err := connect(ctx, shellConnect)
		if err != nil {
			return err
		}
		defer q.close()

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return runLines(ctx, q, cmd.InOrStdin(), cmd.OutOrStdout())
		}
		_, err = tea.NewProgram(newShellModel(ctx, q)).Run()
		return err
	},
}

func init() {
	shellConnect.register(shellCmd.Flags())
}

// runLines executes statements read from r.
func runLines(ctx context.Context, q querier, r io.Reader, w io.Writer) error {
	var pending strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		pending.WriteString(line)
		pending.WriteByte(' ')
		if !strings.HasSuffix(line, ";") {
			continue
		}

		for _, stmt := range splitStatements(pending.String()) {
			res, err := q.query(ctx, stmt)
			if err != nil {
				fmt.Fprintf(w, "ERROR: %v\n", err)
				continue
			}
			err = render(w, res, "table")
			res.release()
			if err != nil {
				return err
			}
		}
		pending.Reset()
	}
	return scanner.Err()
}

type queryDoneMsg struct {
	output string
	err    error
}

type shellModel struct {
	ctx     context.Context
	q       querier
	input   textinput.Model
	pending []string
	history []string
	histIdx int
	running bool
}

func newShellModel(ctx context.Context, q querier) *shellModel {
	ti := textinput.New()
	ti.Placeholder = "SELECT name FROM db.collection;"
	ti.Prompt = promptStyle.Render(Name + "> ")
	ti.Width = 80
	ti.Focus()

	return &shellModel{ctx: ctx, q: q, input: ti}
}

func (m *shellModel) Init() tea.Cmd {
	return tea.Sequence(
		tea.Println(headerStyle.Render(Name+" "+Version)),
		textinput.Blink,
	)
}

// run executes the statements in text and renders their results.
func (m *shellModel) run(text string) tea.Cmd {
	return func() tea.Msg {
		var out []string
		for _, stmt := range splitStatements(text) {
			res, err := m.q.query(m.ctx, stmt)
			if err != nil {
				return queryDoneMsg{output: strings.Join(out, "\n"), err: err}
			}
			out = append(out, renderTable(res))
			res.release()
		}
		return queryDoneMsg{output: strings.Join(out, "\n")}
	}
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit

		case tea.KeyUp:
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case tea.KeyDown:
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			m.input.CursorEnd()
			return m, nil

		case tea.KeyEnter:
			if m.running {
				return m, nil
			}
			return m.submit()
		}

	case queryDoneMsg:
		m.running = false
		var cmds []tea.Cmd
		if msg.output != "" {
			cmds = append(cmds, tea.Println(msg.output))
		}
		if msg.err != nil {
			cmds = append(cmds, tea.Println(errorStyle.Render("ERROR: "+msg.err.Error())))
		}
		return m, tea.Sequence(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles an entered line. Lines accumulate until one ends with a
// semicolon.
func (m *shellModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")

	if len(m.pending) == 0 {
		switch strings.ToLower(line) {
		case "":
			return m, nil
		case "exit", "quit", `\q`:
			return m, tea.Quit
		case "help", `\?`:
			return m, tea.Println(helpStyle.Render("End statements with ';'. Use up/down for history, exit or ctrl+d to leave."))
		}
	}

	m.pending = append(m.pending, line)
	if !strings.HasSuffix(line, ";") {
		return m, tea.Println(promptStyle.Render("... ") + line)
	}

	text := strings.Join(m.pending, " ")
	m.pending = nil
	m.history = append(m.history, text)
	m.histIdx = len(m.history)
	m.running = true

	return m, tea.Sequence(
		tea.Println(promptStyle.Render(Name+"> ")+text),
		m.run(text),
	)
}

func (m *shellModel) View() string {
	var b strings.Builder
	if m.running {
		b.WriteString(helpStyle.Render("running..."))
		b.WriteString("\n")
	} else if len(m.pending) > 0 {
		b.WriteString(helpStyle.Render(fmt.Sprintf("%d line(s) pending, end with ';'", len(m.pending))))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • ctrl+d quit"))
	return b.String()
}
