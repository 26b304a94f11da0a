package terminal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cosiner/argv"

	"github.com/mdbg/mdbg/config"
	"github.com/mdbg/mdbg/proc"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc

	// takesFunction marks commands whose argument completes to
	// function names.
	takesFunction bool
}

// Returns true if the command string matches one of the aliases for
// this command.
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the set of commands the REPL dispatches on.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with all the debugger
// commands, with any extra aliases from the configuration merged in.
func DebugCommands(conf *config.Config) *Commands {
	c := &Commands{}
	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: "Prints the help message."},
		{aliases: []string{"break", "b"}, cmdFn: breakpoint, takesFunction: true, helpMsg: "break <function|file:line|*address>. Sets a breakpoint."},
		{aliases: []string{"clear"}, cmdFn: clear, helpMsg: "clear <breakpoint number>. Deletes a breakpoint."},
		{aliases: []string{"breakpoints", "lsb"}, cmdFn: breakpoints, helpMsg: "Prints all active breakpoints."},
		{aliases: []string{"continue", "c", "cont"}, cmdFn: cont, helpMsg: "Runs until a breakpoint is hit or the process exits."},
		{aliases: []string{"step", "s"}, cmdFn: step, helpMsg: "Single steps one source line, entering function calls."},
		{aliases: []string{"next", "n"}, cmdFn: next, helpMsg: "Steps over to the next source line of the current function."},
		{aliases: []string{"step-instruction", "si"}, cmdFn: stepInstruction, helpMsg: "Single steps one machine instruction."},
		{aliases: []string{"restart", "r"}, cmdFn: restart, helpMsg: "restart [args...]. Restarts the process, re-applying all breakpoints."},
		{aliases: []string{"regs"}, cmdFn: regs, helpMsg: "Prints the contents of the CPU registers."},
		{aliases: []string{"backtrace", "bt", "back"}, cmdFn: backtrace, helpMsg: "backtrace [depth]. Prints the stack with the variables of every frame."},
		{aliases: []string{"list", "ls"}, cmdFn: listCommand, helpMsg: "list [location]. Shows source around the current or given location."},
		{aliases: []string{"disassemble", "disass"}, cmdFn: disassemble, takesFunction: true, helpMsg: "disassemble [function]. Disassembles the current or given function."},
		{aliases: []string{"funcs"}, cmdFn: funcs, helpMsg: "funcs [regexp]. Prints the functions of the program."},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exits the debugger."},
	}
	if conf != nil {
		c.merge(conf.Aliases)
	}
	return c
}

// merge adds the aliases from the configuration file to the command
// they belong to.
func (c *Commands) merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// Names returns the primary names of all commands, for completion.
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		names = append(names, cmd.aliases[0])
	}
	sort.Strings(names)
	return names
}

func (c *Commands) completesFunctions(cmdstr string) bool {
	for _, cmd := range c.cmds {
		if cmd.match(cmdstr) {
			return cmd.takesFunction
		}
	}
	return false
}

// Call dispatches cmdstr to the matching command.
func (c *Commands) Call(t *Term, cmdstr string) error {
	vals := strings.SplitN(cmdstr, " ", 2)
	name := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	for _, cmd := range c.cmds {
		if cmd.match(name) {
			return cmd.cmdFn(t, args)
		}
	}
	return noCmdError{}
}

type noCmdError struct{}

func (n noCmdError) Error() string {
	return "command not available"
}

func (c *Commands) help(t *Term, args string) error {
	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := 0
	for _, cmd := range c.cmds {
		if l := len(strings.Join(cmd.aliases, "|")); l > w {
			w = l
		}
	}
	for _, cmd := range c.cmds {
		fmt.Fprintf(t.stdout, "    %-*s %s\n", w, strings.Join(cmd.aliases, "|"), cmd.helpMsg)
	}
	return nil
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("argument required (function name, file:line or *address)")
	}
	addr, err := t.process.FindLocation(args)
	if err != nil {
		return err
	}
	bp, err := t.process.SetBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d set at %#x for %s %s:%d\n", bp.ID, bp.Addr, bp.FunctionName, bp.File, bp.Line)
	return nil
}

func clear(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("breakpoint number required")
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid breakpoint number %q", args)
	}
	bp, ok := t.process.FindBreakpointByID(id)
	if !ok {
		return fmt.Errorf("no breakpoint with number %d", id)
	}
	if _, err := t.process.ClearBreakpoint(bp.Addr); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d cleared at %#x for %s %s:%d\n", bp.ID, bp.Addr, bp.FunctionName, bp.File, bp.Line)
	return nil
}

func breakpoints(t *Term, args string) error {
	for _, bp := range t.process.BreakpointList() {
		fmt.Fprintf(t.stdout, "%s\n", bp)
	}
	return nil
}

func cont(t *Term, args string) error {
	if err := t.process.Continue(); err != nil {
		return err
	}
	return printcontext(t)
}

func step(t *Term, args string) error {
	if err := t.process.Step(); err != nil {
		return err
	}
	return printcontext(t)
}

func next(t *Term, args string) error {
	if err := t.process.Next(); err != nil {
		return err
	}
	return printcontext(t)
}

func stepInstruction(t *Term, args string) error {
	if err := t.process.StepInstruction(); err != nil {
		return err
	}
	return printcontext(t)
}

func restart(t *Term, args string) error {
	if t.launchArgs == nil {
		return fmt.Errorf("cannot restart a process the debugger did not start")
	}
	cmd := t.launchArgs
	if args != "" {
		parsed, err := argv.Argv(args, nil, nil)
		if err != nil {
			return err
		}
		if len(parsed) != 1 {
			return fmt.Errorf("illegal commandline %q", args)
		}
		cmd = append([]string{t.launchArgs[0]}, parsed[0]...)
	}

	// Remember where the old breakpoints were, relative to the old
	// load base, so they survive into the new process.
	old := t.process.BreakpointList()
	oldBase := t.process.BaseAddress()

	if !t.process.Exited() {
		if err := t.process.Kill(); err != nil {
			return err
		}
	}
	p, err := proc.Launch(cmd)
	if err != nil {
		return err
	}
	t.process = p
	t.launchArgs = cmd

	for _, bp := range old {
		if nbp, err := p.SetBreakpoint(bp.Addr - oldBase + p.BaseAddress()); err != nil {
			fmt.Fprintf(t.stdout, "could not restore breakpoint %d: %v\n", bp.ID, err)
		} else {
			fmt.Fprintf(t.stdout, "Breakpoint %d set at %#x for %s %s:%d\n", nbp.ID, nbp.Addr, nbp.FunctionName, nbp.File, nbp.Line)
		}
	}
	fmt.Fprintf(t.stdout, "Process restarted with PID %d\n", p.Pid)
	return nil
}

func regs(t *Term, args string) error {
	regs, err := t.process.Registers()
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, regs.String())
	return nil
}

const defaultBacktraceDepth = 10

func backtrace(t *Term, args string) error {
	depth := defaultBacktraceDepth
	if args != "" {
		d, err := strconv.Atoi(args)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid depth %q", args)
		}
		depth = d
	}
	st, err := t.process.Stacktrace(depth)
	if err != nil {
		return err
	}
	for i, frame := range st.Frames {
		name := "???"
		if frame.Current.Fn != nil {
			name = frame.Current.Fn.Name
		}
		fmt.Fprintf(t.stdout, "%d  %#x in %s\n", i, frame.Current.PC, name)
		if frame.Current.File != "" {
			fmt.Fprintf(t.stdout, "       at %s:%d\n", frame.Current.File, frame.Current.Line)
		}
		if frame.Current.Fn == nil {
			continue
		}
		vars, err := t.process.FrameVariables(frame)
		if err != nil {
			fmt.Fprintf(t.stdout, "       (could not resolve variables: %v)\n", err)
			continue
		}
		for _, v := range vars {
			fmt.Fprintf(t.stdout, "       %s\n", v)
		}
	}
	if st.Truncated {
		fmt.Fprintln(t.stdout, "(truncated)")
	}
	return nil
}

func listCommand(t *Term, args string) error {
	loc, err := t.process.CurrentLocation()
	if err != nil {
		return err
	}
	if args != "" {
		addr, err := t.process.FindLocation(args)
		if err != nil {
			return err
		}
		loc = t.process.LocationAt(addr)
	}
	if loc.File == "" {
		return fmt.Errorf("no source for %#x", loc.PC)
	}
	return printSource(t, loc.File, loc.Line, t.conf.SourceListLineCount)
}

func disassemble(t *Term, args string) error {
	pc, err := t.process.PC()
	if err != nil {
		return err
	}
	if args != "" {
		if pc, err = t.process.FindLocation(args); err != nil {
			return err
		}
	}
	instrs, err := t.process.DisassembleFunction(pc)
	if err != nil {
		return err
	}
	for _, inst := range instrs {
		marker := "   "
		if inst.Loc.PC == pc {
			marker = "=> "
		} else if inst.Breakpoint {
			marker = " * "
		}
		fmt.Fprintf(t.stdout, "%s%#x: %s\n", marker, inst.Loc.PC, inst.Text)
	}
	return nil
}

func funcs(t *Term, args string) error {
	names, err := t.process.BinInfo.FuncsMatching(args)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(t.stdout, name)
	}
	return nil
}

func exitCommand(t *Term, args string) error {
	t.quit = true
	return nil
}

// printcontext shows where the target is stopped: the stop reason, the
// resolved location and the surrounding source.
func printcontext(t *Term) error {
	p := t.process
	loc, err := p.CurrentLocation()
	if err != nil {
		return err
	}
	name := "???"
	if loc.Fn != nil {
		name = loc.Fn.Name
	}
	switch p.StopReason {
	case proc.StopBreakpoint:
		if bp, ok := p.FindBreakpoint(loc.PC); ok {
			fmt.Fprintf(t.stdout, "> hit breakpoint %d %s() %s:%d (PC: %#x)\n", bp.ID, name, loc.File, loc.Line, loc.PC)
			break
		}
		fallthrough
	case proc.StopStep, proc.StopLaunched:
		fmt.Fprintf(t.stdout, "> %s() %s:%d (PC: %#x)\n", name, loc.File, loc.Line, loc.PC)
	case proc.StopManual:
		fmt.Fprintf(t.stdout, "> stopped %s() %s:%d (PC: %#x)\n", name, loc.File, loc.Line, loc.PC)
	case proc.StopSignal:
		fmt.Fprintf(t.stdout, "> received signal %v, %s() %s:%d (PC: %#x)\n", p.StopSig, name, loc.File, loc.Line, loc.PC)
	}
	if loc.File == "" {
		return nil
	}
	return printSource(t, loc.File, loc.Line, t.conf.SourceListLineCount)
}
