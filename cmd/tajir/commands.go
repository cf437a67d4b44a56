package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/explain"
	"github.com/asifgondal786/tajir/pkg/guardrail"
)

// command carries the flags every subcommand shares.
type command struct {
	fs     *flag.FlagSet
	user   string
	stdout io.Writer
	stderr io.Writer
}

func newCommand(name string, stdout, stderr io.Writer) *command {
	c := &command{fs: flag.NewFlagSet(name, flag.ContinueOnError), stdout: stdout, stderr: stderr}
	c.fs.SetOutput(stderr)
	c.fs.StringVar(&c.user, "user", "", "User ID (REQUIRED)")
	return c
}

// parse parses args and checks that -user and every named path flag are set.
func (c *command) parse(args []string, required map[string]*string) bool {
	if err := c.fs.Parse(args); err != nil {
		return false
	}
	if c.user == "" {
		_, _ = fmt.Fprintln(c.stderr, "Error: --user is required")
		return false
	}
	for name, v := range required {
		if *v == "" {
			_, _ = fmt.Fprintf(c.stderr, "Error: --%s is required\n", name)
			return false
		}
	}
	return true
}

// run opens the engine, calls fn and closes everything afterwards.
func (c *command) run(fn func(ctx context.Context, a *app) (int, error)) int {
	ctx := context.Background()
	a, err := openApp(ctx, c.stderr)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close()

	code, err := fn(ctx, a)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 2
	}
	return code
}

func decisionExit(d guardrail.Decision) int {
	if d.Allowed {
		return 0
	}
	return 1
}

// gateInputs reads the snapshot and optional summary a Gate needs.
func gateInputs(snapshotPath, summaryPath string) (snapshotFile, summaryFile, error) {
	var snap contracts.MarketSnapshot
	if err := readJSON(snapshotPath, &snap); err != nil {
		return snapshotFile{}, summaryFile{}, err
	}
	var paper summaryFile
	if summaryPath != "" {
		var s contracts.PaperSummary
		if err := readJSON(summaryPath, &s); err != nil {
			return snapshotFile{}, summaryFile{}, err
		}
		paper.summary = &s
	}
	return snapshotFile{snap: snap}, paper, nil
}

func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("check", stdout, stderr)
	var proposal, snapshot, summary string
	c.fs.StringVar(&proposal, "proposal", "", "Trade proposal JSON file (REQUIRED)")
	c.fs.StringVar(&snapshot, "snapshot", "", "Market snapshot JSON file (REQUIRED)")
	c.fs.StringVar(&summary, "summary", "", "Paper trading summary JSON file")
	if !c.parse(args, map[string]*string{"proposal": &proposal, "snapshot": &snapshot}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		p, err := readProposal(proposal)
		if err != nil {
			return 0, err
		}
		market, paper, err := gateInputs(snapshot, summary)
		if err != nil {
			return 0, err
		}
		d, err := guardrail.NewGate(a.engine, market, paper).Check(ctx, c.user, p)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, d)
		return decisionExit(d), nil
	})
}

func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("validate", stdout, stderr)
	var proposal string
	c.fs.StringVar(&proposal, "proposal", "", "Trade proposal JSON file (REQUIRED)")
	if !c.parse(args, map[string]*string{"proposal": &proposal}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		p, err := readProposal(proposal)
		if err != nil {
			return 0, err
		}
		d, err := a.engine.ValidateTrade(ctx, c.user, p)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, d)
		return decisionExit(d), nil
	})
}

func runExplainCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("explain", stdout, stderr)
	var proposal, snapshot, summary string
	c.fs.StringVar(&proposal, "proposal", "", "Trade proposal JSON file (REQUIRED)")
	c.fs.StringVar(&snapshot, "snapshot", "", "Market snapshot JSON file (REQUIRED)")
	c.fs.StringVar(&summary, "summary", "", "Paper trading summary JSON file")
	if !c.parse(args, map[string]*string{"proposal": &proposal, "snapshot": &snapshot}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		p, err := readProposal(proposal)
		if err != nil {
			return 0, err
		}
		market, paper, err := gateInputs(snapshot, summary)
		if err != nil {
			return 0, err
		}
		d, issued, err := guardrail.NewGate(a.engine, market, paper).Explain(ctx, c.user, p)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, struct {
			Decision guardrail.Decision `json:"decision"`
			Token    explain.Issued     `json:"token"`
		}{d, issued})
		return decisionExit(d), nil
	})
}

func runExecuteCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("execute", stdout, stderr)
	var proposal, token string
	c.fs.StringVar(&proposal, "proposal", "", "Trade proposal JSON file (REQUIRED)")
	c.fs.StringVar(&token, "token", "", "Explain token (live trades)")
	if !c.parse(args, map[string]*string{"proposal": &proposal}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		p, err := readProposal(proposal)
		if err != nil {
			return 0, err
		}
		trade, d, err := a.engine.ExecuteTrade(ctx, c.user, p, token)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, struct {
			Decision guardrail.Decision        `json:"decision"`
			Trade    *contracts.TradeExecution `json:"trade,omitempty"`
		}{d, trade})
		return decisionExit(d), nil
	})
}

func runCloseCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("close", stdout, stderr)
	var tradeID string
	var exit float64
	c.fs.StringVar(&tradeID, "trade", "", "Trade ID (REQUIRED)")
	c.fs.Float64Var(&exit, "exit", 0, "Exit price (REQUIRED)")
	if !c.parse(args, map[string]*string{"trade": &tradeID}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		res, err := a.engine.CloseTrade(ctx, c.user, tradeID, exit)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, res)
		return 0, nil
	})
}

func runKillCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("kill", stdout, stderr)
	if !c.parse(args, nil) {
		return 2
	}
	return c.run(func(ctx context.Context, a *app) (int, error) {
		res, err := a.engine.ActivateKillSwitch(ctx, c.user)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, res)
		return 0, nil
	})
}

func runReactivateCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("reactivate", stdout, stderr)
	if !c.parse(args, nil) {
		return 2
	}
	return c.run(func(ctx context.Context, a *app) (int, error) {
		snap, err := a.engine.Reactivate(ctx, c.user)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, snap)
		return 0, nil
	})
}

func runProbationCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("probation", stdout, stderr)
	var summary string
	c.fs.StringVar(&summary, "summary", "", "Paper trading summary JSON file (REQUIRED)")
	if !c.parse(args, map[string]*string{"summary": &summary}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		var s contracts.PaperSummary
		if err := readJSON(summary, &s); err != nil {
			return 0, err
		}
		res, err := a.engine.EvaluateProbation(ctx, c.user, s)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, res)
		if !res.Passed {
			return 1, nil
		}
		return 0, nil
	})
}

func runConfigureCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("configure", stdout, stderr)
	var file, level string
	c.fs.StringVar(&file, "file", "", "Guardrail config JSON file (probation, risk_budget, level)")
	c.fs.StringVar(&level, "level", "", "Override the autonomy level")
	if !c.parse(args, nil) {
		return 2
	}
	if file == "" && level == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file or --level is required")
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		var gc guardrail.GuardrailConfig
		if file != "" {
			if err := readJSON(file, &gc); err != nil {
				return 0, err
			}
		}
		if level != "" {
			l, err := autonomy.ParseLevel(level)
			if err != nil {
				return 0, err
			}
			gc.Level = &l
		}
		snap, err := a.engine.ConfigureGuardrails(ctx, c.user, gc)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, snap)
		return 0, nil
	})
}

func runLimitsCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("limits", stdout, stderr)
	var file string
	c.fs.StringVar(&file, "file", "", "Risk limits JSON file (REQUIRED)")
	if !c.parse(args, map[string]*string{"file": &file}) {
		return 2
	}

	return c.run(func(ctx context.Context, a *app) (int, error) {
		var limits contracts.RiskLimits
		if err := readJSON(file, &limits); err != nil {
			return 0, err
		}
		snap, err := a.engine.ConfigureRiskLimits(ctx, c.user, limits)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, snap)
		return 0, nil
	})
}

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("status", stdout, stderr)
	if !c.parse(args, nil) {
		return 2
	}
	return c.run(func(ctx context.Context, a *app) (int, error) {
		snap, err := a.engine.GetGuardrails(ctx, c.user)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, snap)
		return 0, nil
	})
}

func runAssessCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("assess", stdout, stderr)
	if !c.parse(args, nil) {
		return 2
	}
	return c.run(func(ctx context.Context, a *app) (int, error) {
		res, err := a.engine.RiskAssessment(ctx, c.user)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, res)
		return 0, nil
	})
}

func runAnalyticsCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("analytics", stdout, stderr)
	var days int
	c.fs.IntVar(&days, "days", 30, "Window in days")
	if !c.parse(args, nil) {
		return 2
	}
	return c.run(func(ctx context.Context, a *app) (int, error) {
		res, err := a.engine.TradingAnalytics(ctx, c.user, days)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, res)
		return 0, nil
	})
}

func runDenialsCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommand("denials", stdout, stderr)
	var limit int
	c.fs.IntVar(&limit, "limit", 10, "Maximum receipts to list (0 for all)")
	if !c.parse(args, nil) {
		return 2
	}
	return c.run(func(ctx context.Context, a *app) (int, error) {
		res, err := a.engine.Denials(ctx, c.user, limit)
		if err != nil {
			return 0, err
		}
		writeJSON(stdout, res)
		return 0, nil
	})
}
