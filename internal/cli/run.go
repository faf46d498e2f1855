package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ToolGate/ToolGate/internal/audit"
	"github.com/ToolGate/ToolGate/internal/bus"
	"github.com/ToolGate/ToolGate/internal/config"
	"github.com/ToolGate/ToolGate/internal/confirm"
	"github.com/ToolGate/ToolGate/internal/executor"
	"github.com/ToolGate/ToolGate/internal/hooks"
	"github.com/ToolGate/ToolGate/internal/journal"
	"github.com/ToolGate/ToolGate/internal/scheduler"
)

var (
	runArgs    string
	runCommand string
	runYes     bool
)

var runCmd = &cobra.Command{
	Use:   "run <tool>",
	Short: "Run one tool call through the full admission pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		engine, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		registry := buildRegistry(cfg)
		b := bus.New()

		var auditSvc *audit.Service
		if cfg.Audit.Enabled {
			if auditSvc, err = audit.New(cfg.Audit.DBPath); err != nil {
				fmt.Fprintf(os.Stderr, "audit disabled: %v\n", err)
				auditSvc = nil
			} else {
				defer auditSvc.Close()
				if cfg.Audit.StaleApprovalAge > 0 {
					_, _ = auditSvc.ExpireStaleApprovals(time.Now().Add(-cfg.Audit.StaleApprovalAge))
				}
			}
		}

		var hookRunner hooks.Runner
		if cfg.Hooks.Enabled {
			configured := make([]hooks.Hook, 0, len(cfg.Hooks.Hooks))
			for _, h := range cfg.Hooks.Hooks {
				configured = append(configured, hooks.Hook{
					Name:          h.Name,
					Event:         h.Event,
					Command:       h.Command,
					ProjectScoped: h.ProjectScoped,
					Timeout:       h.Timeout,
				})
			}
			hookRunner = hooks.NewCommandRunner(engine, configured)
		}

		exec := executor.New(registry, hookRunner, executor.Truncation{
			MaxBytes: cfg.Executor.MaxOutputBytes,
			MaxLines: cfg.Executor.MaxOutputLines,
		}, cfg.Paths.OutputDir)

		sched := scheduler.New(scheduler.Options{
			Registry:        registry,
			Engine:          engine,
			Bus:             b,
			Executor:        exec,
			RulePersistPath: cfg.Policy.AutoRuleFile,
			ConfirmTimeout:  cfg.Confirm.Timeout,
			Audit:           auditSvc,
		})
		defer sched.Close()

		if auditSvc != nil {
			sched.State().Observe(func(call scheduler.ToolCall) {
				if call.Status == scheduler.StatusValidating {
					_ = auditSvc.RecordCallStart(call.Request.CallID, call.Request.Tool)
				}
				kind := ""
				if call.Response != nil {
					kind = string(call.Response.ErrorKind)
				}
				_ = auditSvc.RecordCallStatus(call.Request.CallID, string(call.Status), kind)
				if call.Response != nil && call.Response.OutputFile != "" {
					_ = auditSvc.RecordCallOutput(call.Request.CallID, call.Response.OutputFile)
				}
			})
		}
		if cfg.Journal.Enabled && len(cfg.Journal.Brokers) > 0 {
			j := journal.New(cfg.Journal.Brokers, cfg.Journal.Topic)
			defer j.Close()
			sched.State().Observe(j.Observer())
		}

		if !cfg.Policy.NonInteractive {
			unsub := b.Subscribe(bus.TopicConfirmationRequest, terminalApprover(b))
			defer unsub()
		}

		request := scheduler.Request{Tool: args[0]}
		if runArgs != "" {
			if err := json.Unmarshal([]byte(runArgs), &request.Args); err != nil {
				return fmt.Errorf("parsing --args: %w", err)
			}
		}
		if runCommand != "" {
			if request.Args == nil {
				request.Args = map[string]any{}
			}
			request.Args["command"] = runCommand
		}

		calls, err := sched.Schedule(cmd.Context(), []scheduler.Request{request}).Wait(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(calls[0])
	},
}

// terminalApprover prompts on the controlling terminal for each
// confirmation request.
func terminalApprover(b *bus.Bus) func(any) {
	reader := bufio.NewReader(os.Stdin)
	return func(msg any) {
		req, ok := msg.(bus.ConfirmationRequest)
		if !ok {
			return
		}
		fmt.Println()
		fmt.Println(color.YellowString("⚠ Confirmation required: %s", req.Tool))
		if req.Description != "" {
			fmt.Println("  " + req.Description)
		}
		if runYes {
			b.Publish(bus.TopicConfirmationResponse, bus.ConfirmationResponse{
				CorrelationID: req.CorrelationID,
				Confirmed:     true,
				Outcome:       string(confirm.ProceedOnce),
			})
			return
		}
		fmt.Print("  [y]es once / [a]lways / [s]ave always / [N]o: ")
		line, _ := reader.ReadString('\n')
		var outcome confirm.Outcome
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			outcome = confirm.ProceedOnce
		case "a", "always":
			outcome = confirm.ProceedAlways
		case "s", "save":
			outcome = confirm.ProceedAlwaysAndSave
		default:
			outcome = confirm.Cancel
		}
		b.Publish(bus.TopicConfirmationResponse, bus.ConfirmationResponse{
			CorrelationID: req.CorrelationID,
			Confirmed:     outcome.Proceeds(),
			Outcome:       string(outcome),
		})
	}
}

func printResult(call scheduler.ToolCall) error {
	switch call.Status {
	case scheduler.StatusSuccess:
		fmt.Println(color.GreenString("✓ %s succeeded", call.Request.Tool))
		if call.Response != nil && call.Response.Content != "" {
			fmt.Println(call.Response.Content)
		}
		return nil
	case scheduler.StatusCancelled:
		fmt.Println(color.YellowString("✗ %s cancelled", call.Request.Tool))
		return nil
	default:
		msg := "unknown error"
		kind := scheduler.ErrUnhandledException
		if call.Response != nil {
			msg = call.Response.Error
			kind = call.Response.ErrorKind
		}
		fmt.Println(color.RedString("✗ %s failed (%s)", call.Request.Tool, kind))
		return fmt.Errorf("%s", msg)
	}
}

func init() {
	runCmd.Flags().StringVar(&runArgs, "args", "", "tool arguments as JSON")
	runCmd.Flags().StringVar(&runCommand, "command", "", "shell command for shell tools")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "approve confirmations without prompting")
}
