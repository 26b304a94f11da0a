// Package terminal implements the interactive command line interface
// of the debugger.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/mdbg/mdbg/config"
	"github.com/mdbg/mdbg/logflags"
	"github.com/mdbg/mdbg/proc"
)

const terminalPrompt = "(mdbg) "

// Term represents the terminal running the debugger REPL. It owns the
// target process for the session; the restart command replaces it.
type Term struct {
	process    *proc.Process
	launchArgs []string // nil when attached to an existing process
	attached   bool

	cmds       *Commands
	conf       *config.Config
	prompt     string
	line       *liner.State
	stdout     io.Writer
	stdin      *bufio.Reader
	dumb       bool
	historyLoc string
	quit       bool
}

// New returns a new Term wired to the given target. launchArgs holds
// the command line the target was launched with, nil for an attach
// session; the restart command reuses it.
func New(target *proc.Process, launchArgs []string, conf *config.Config) *Term {
	var stdout io.Writer = colorable.NewColorableStdout()
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		stdout = os.Stdout
	}
	return &Term{
		process:    target,
		launchArgs: launchArgs,
		attached:   launchArgs == nil,
		cmds:       DebugCommands(conf),
		conf:       conf,
		prompt:     terminalPrompt,
		line:       liner.NewLiner(),
		stdout:     stdout,
		stdin:      bufio.NewReader(os.Stdin),
		dumb:       dumb,
	}
}

// Run runs the command loop until the user exits or the session
// becomes unusable. The returned status is the debugger exit code.
func (t *Term) Run() (int, error) {
	defer t.line.Close()

	// A stop on an interrupted free-run is more useful than the
	// default behavior of killing the debugger.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go func() {
		for range ch {
			if t.process != nil && t.process.Running() {
				fmt.Fprintln(t.stdout, "received SIGINT, stopping process (will not forward signal)")
				t.process.Halt()
			}
		}
	}()

	t.line.SetCompleter(t.complete)
	t.loadHistory()
	defer t.saveHistory()

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	var lastCmd string
	for !t.quit {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}
		if cmdstr == "" {
			cmdstr = lastCmd
		}
		if cmdstr == "" {
			continue
		}
		lastCmd = cmdstr

		if err := t.cmds.Call(t, cmdstr); err != nil {
			switch err.(type) {
			case proc.ProcessExitedError, proc.ProcessTerminatedError:
				fmt.Fprintf(t.stdout, "%v\n", err)
			default:
				fmt.Fprintf(t.stdout, "Command failed: %v\n", err)
			}
		}
	}
	return t.handleExit()
}

// promptForInput reads one command line. A dumb terminal gets a plain
// buffered read: liner's raw mode misbehaves without a real tty.
func (t *Term) promptForInput() (string, error) {
	if t.dumb {
		fmt.Fprint(t.stdout, t.prompt)
		l, err := t.stdin.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(l), nil
	}
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}
	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	return strings.TrimSpace(l), nil
}

// complete provides tab completion: command names at the start of the
// line, function names as the argument of commands that take one.
func (t *Term) complete(line string) []string {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 1 && !strings.HasSuffix(line, " "):
		var out []string
		for _, name := range t.cmds.Names() {
			if strings.HasPrefix(name, fields[0]) {
				out = append(out, name)
			}
		}
		return out

	case len(fields) >= 1 && t.cmds.completesFunctions(fields[0]):
		if t.process == nil || len(fields) < 2 || strings.HasSuffix(line, " ") {
			return nil
		}
		prefix := fields[len(fields)-1]
		head := strings.Join(fields[:len(fields)-1], " ")
		var out []string
		for _, name := range t.process.BinInfo.FuncsWithPrefix(prefix) {
			out = append(out, head+" "+name)
		}
		return out
	}
	return nil
}

func (t *Term) loadHistory() {
	path, err := config.GetConfigFilePath(config.HistoryFile)
	if err != nil {
		return
	}
	t.historyLoc = path
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	t.line.ReadHistory(f)
}

func (t *Term) saveHistory() {
	if t.historyLoc == "" {
		return
	}
	f, err := os.Create(t.historyLoc)
	if err != nil {
		if logflags.Terminal() {
			logflags.TerminalLogger().Errorf("could not save history: %v", err)
		}
		return
	}
	defer f.Close()
	t.line.WriteHistory(f)
}

func (t *Term) handleExit() (int, error) {
	if t.process == nil || t.process.Exited() {
		return 0, nil
	}
	if t.attached {
		if t.ask("Would you like to detach from the process?") {
			return 0, t.process.Detach()
		}
		return 0, nil
	}
	if t.ask("Would you like to kill the process?") {
		return 0, t.process.Kill()
	}
	return 0, t.process.Detach()
}

func (t *Term) ask(question string) bool {
	for {
		answer, err := t.line.Prompt(question + " [Y/n] ")
		if err != nil {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "", "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}
