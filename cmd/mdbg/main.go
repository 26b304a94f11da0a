package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mdbg/mdbg/config"
	"github.com/mdbg/mdbg/logflags"
	"github.com/mdbg/mdbg/proc"
	"github.com/mdbg/mdbg/terminal"
	"github.com/mdbg/mdbg/version"
)

var (
	log       bool
	logOutput string
	conf      *config.Config
)

func main() {
	rootCommand := &cobra.Command{
		Use:   "mdbg",
		Short: "mdbg is a source level debugger for native programs.",
		Long: `mdbg launches or attaches to a compiled program and lets you set
breakpoints by function name, step through the source, and inspect a
symbolic backtrace with resolved variable values.

The target must be compiled with debug information (-g) and, for
useful backtraces, with frame pointers (-fno-omit-frame-pointer).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(log, logOutput)
		},
	}
	rootCommand.PersistentFlags().BoolVar(&log, "log", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVar(&logOutput, "log-output", "", "Comma separated list of components that should produce log output (proc,bininfo,terminal).")

	execCommand := &cobra.Command{
		Use:   "exec <path> [args...]",
		Short: "Execute a precompiled binary and begin a debug session.",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args))
		},
	}
	rootCommand.AddCommand(execCommand)

	attachCommand := &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attach to a running process and begin a debug session.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
				os.Exit(1)
			}
			os.Exit(attach(pid))
		},
	}
	rootCommand.AddCommand(attachCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints the version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mdbg version: %s\n", version.DebuggerVersion)
		},
	}
	// The logging flags are parsed at the root but mean nothing here;
	// keep them out of the help text.
	versionCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		cmd.InheritedFlags().VisitAll(func(flag *pflag.Flag) {
			flag.Hidden = true
		})
		cmd.Root().HelpFunc()(cmd, args)
	})
	rootCommand.AddCommand(versionCommand)

	conf = config.LoadConfig()

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func execute(args []string) int {
	p, err := proc.Launch(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not launch program: %v\n", err)
		return 1
	}
	return runSession(terminal.New(p, args, conf))
}

func attach(pid int) int {
	p, err := proc.Attach(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not attach to pid %d: %v\n", pid, err)
		return 1
	}
	return runSession(terminal.New(p, nil, conf))
}

func runSession(term *terminal.Term) int {
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
