package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success, or the trade was admitted
//	1 = the trade was denied
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "check":
		return runCheckCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "explain":
		return runExplainCmd(args[2:], stdout, stderr)
	case "execute":
		return runExecuteCmd(args[2:], stdout, stderr)
	case "close":
		return runCloseCmd(args[2:], stdout, stderr)
	case "kill":
		return runKillCmd(args[2:], stdout, stderr)
	case "reactivate":
		return runReactivateCmd(args[2:], stdout, stderr)
	case "probation":
		return runProbationCmd(args[2:], stdout, stderr)
	case "configure":
		return runConfigureCmd(args[2:], stdout, stderr)
	case "limits":
		return runLimitsCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "assess":
		return runAssessCmd(args[2:], stdout, stderr)
	case "analytics":
		return runAnalyticsCmd(args[2:], stdout, stderr)
	case "denials":
		return runDenialsCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "tajir %s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "tajir %s\n", Version)
	fmt.Fprintln(w, "Risk governance for autonomous trading.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  tajir <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "DECISIONS")
	printCommand(w, "check", "Can an autonomous strategy place this trade")
	printCommand(w, "validate", "Validate a trade against limits and rules")
	printCommand(w, "explain", "Check a trade and issue its explain token")
	printCommand(w, "execute", "Execute a trade (--token for live trades)")
	printCommand(w, "close", "Close an open trade at an exit price")

	printSection(w, "CONTROL")
	printCommand(w, "kill", "Activate the kill switch")
	printCommand(w, "reactivate", "Lift the kill switch")
	printCommand(w, "probation", "Evaluate a paper-trading record")
	printCommand(w, "configure", "Set probation, risk budget or level")
	printCommand(w, "limits", "Replace the hard trade limits")

	printSection(w, "REPORTS")
	printCommand(w, "status", "Show the user's guardrails")
	printCommand(w, "assess", "Grade the user's current exposure")
	printCommand(w, "analytics", "Summarize realized trading (--days)")
	printCommand(w, "denials", "List recent denial receipts")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}
