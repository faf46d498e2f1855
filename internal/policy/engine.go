package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Checker is a safety check consulted after rule matching. A checker can
// tighten a decision but never loosen one: DENY overrides everything,
// ASK_USER upgrades an ALLOW. A checker that fails or panics counts as
// DENY.
type Checker interface {
	Name() string
	// Applies reports whether the checker is interested in the action.
	Applies(a Action) bool
	// Check returns the checker's verdict. The context carries the
	// call's cancellation signal; checkers may perform I/O.
	Check(ctx context.Context, a Action) (Decision, error)
}

// HookRequest describes a hook about to be executed.
type HookRequest struct {
	Name          string
	Event         string
	Command       string
	ProjectScoped bool
}

// HookChecker vets hook executions.
type HookChecker interface {
	Name() string
	Check(req HookRequest) (Decision, error)
}

// Options configures a new Engine.
type Options struct {
	Mode            ApprovalMode
	DefaultDecision Decision
	// NonInteractive coerces final ASK_USER decisions to DENY: with no
	// human present there is nobody to ask.
	NonInteractive bool
	// ShellTools names the tools whose command argument is decomposed
	// and vetted per sub-command.
	ShellTools []string
	// HooksEnabled gates CheckHook globally.
	HooksEnabled bool
	// WorkspaceTrusted permits project-scoped hooks.
	WorkspaceTrusted bool
}

// Engine evaluates tool calls against a priority-ordered rule list.
// Check never mutates engine state; the mutators are safe to call
// between checks.
type Engine struct {
	mu               sync.RWMutex
	rules            []*Rule
	checkers         []Checker
	hookCheckers     []HookChecker
	mode             ApprovalMode
	defaultDecision  Decision
	nonInteractive   bool
	hooksEnabled     bool
	workspaceTrusted bool
	shellTools       map[string]bool
}

// NewEngine creates a policy engine.
func NewEngine(opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = ModeDefault
	}
	if opts.DefaultDecision == "" {
		opts.DefaultDecision = AskUser
	}
	if len(opts.ShellTools) == 0 {
		opts.ShellTools = []string{"exec", "shell", "run_command"}
	}
	shellTools := make(map[string]bool, len(opts.ShellTools))
	for _, name := range opts.ShellTools {
		shellTools[name] = true
	}
	return &Engine{
		mode:             opts.Mode,
		defaultDecision:  opts.DefaultDecision,
		nonInteractive:   opts.NonInteractive,
		hooksEnabled:     opts.HooksEnabled,
		workspaceTrusted: opts.WorkspaceTrusted,
		shellTools:       shellTools,
	}
}

// Check evaluates an action and returns the decision plus the rule that
// produced it.
func (e *Engine) Check(ctx context.Context, a Action) CheckResult {
	e.mu.RLock()
	res := e.checkRules(a)
	nonInteractive := e.nonInteractive
	checkers := make([]Checker, len(e.checkers))
	copy(checkers, e.checkers)
	e.mu.RUnlock()

	if res.Decision != Deny {
		res = applyCheckers(ctx, checkers, a, res)
	}
	// Coerce exactly once, at the top level. Shell recursion below works
	// on raw decisions.
	if nonInteractive && res.Decision == AskUser {
		res.Decision = Deny
	}
	return res
}

// checkRules walks the rule list and, for shell tools, decomposes the
// command. Caller holds at least a read lock.
func (e *Engine) checkRules(a Action) CheckResult {
	match := e.matchRule(a)
	if e.shellTools[a.Tool] {
		if cmd := a.command(); cmd != "" {
			return e.checkShellCommand(a, cmd, match)
		}
	}
	if match != nil {
		return CheckResult{Decision: match.Decision, Rule: match}
	}
	return CheckResult{Decision: e.defaultDecision}
}

// matchRule returns the highest-priority structural match, or nil.
// Arguments are canonicalized at most once per call, and only when some
// candidate rule actually has an args pattern.
func (e *Engine) matchRule(a Action) *Rule {
	canon := ""
	canonDone := false
	for _, r := range e.rules {
		if !r.appliesInMode(e.mode) {
			continue
		}
		if !r.matchesTool(a) {
			continue
		}
		if r.argsRe != nil {
			if !canonDone {
				canon = CanonicalArgs(a.Args)
				canonDone = true
			}
			if !r.argsRe.MatchString(canon) {
				continue
			}
		}
		return r
	}
	return nil
}

// checkShellCommand vets a shell command by splitting it into syntactic
// sub-commands and re-checking each through the rule walk.
//
// An unparsable command forces ASK_USER: fail closed, but in front of a
// human rather than as a silent denial. A DENY anywhere wins immediately;
// an ASK_USER (or an undeclared output redirection) downgrades the
// aggregate but scanning continues so a later DENY is still found.
func (e *Engine) checkShellCommand(a Action, cmd string, topRule *Rule) CheckResult {
	subs, err := SplitCommand(cmd)
	if err != nil {
		return CheckResult{Decision: AskUser, Rule: topRule}
	}
	if topRule != nil && topRule.Decision == Deny {
		return CheckResult{Decision: Deny, Rule: topRule}
	}

	redirExempt := e.mode == ModeAutoEdit || e.mode == ModeYolo

	// Single segment: nothing to decompose further. Recursing here would
	// re-enter this function with the same string.
	if len(subs) == 1 {
		res := CheckResult{Decision: e.defaultDecision}
		if topRule != nil {
			res = CheckResult{Decision: topRule.Decision, Rule: topRule}
		}
		if res.Decision == Allow && subs[0].HasRedirect && !redirExempt &&
			(topRule == nil || !topRule.AllowRedirection) {
			res.Decision = AskUser
		}
		return res
	}

	agg := CheckResult{Decision: Allow, Rule: topRule}
	for _, sub := range subs {
		var res CheckResult
		if sub.Text == cmd {
			// Guard against a sub-command identical to the original.
			res = CheckResult{Decision: e.defaultDecision}
			if topRule != nil {
				res = CheckResult{Decision: topRule.Decision, Rule: topRule}
			}
		} else {
			subAction := Action{
				Tool:       a.Tool,
				ServerName: a.ServerName,
				Args:       map[string]any{"command": sub.Text},
				Command:    sub.Text,
			}
			res = e.checkRules(subAction)
		}

		if res.Decision == Deny {
			return res
		}

		effective := res.Rule
		if effective == nil {
			effective = topRule
		}
		if sub.HasRedirect && !redirExempt && (effective == nil || !effective.AllowRedirection) {
			agg.Decision = AskUser
			if res.Rule != nil {
				agg.Rule = res.Rule
			}
			continue
		}
		if res.Decision == AskUser {
			agg.Decision = AskUser
			if res.Rule != nil {
				agg.Rule = res.Rule
			}
		}
	}
	return agg
}

// applyCheckers runs the registered safety checkers over the action.
func applyCheckers(ctx context.Context, checkers []Checker, a Action, res CheckResult) CheckResult {
	for _, c := range checkers {
		if !c.Applies(a) {
			continue
		}
		d, err := runChecker(ctx, c, a)
		if err != nil {
			slog.Warn("Safety checker failed, denying", "checker", c.Name(), "tool", a.Tool, "error", err)
			return CheckResult{Decision: Deny, Rule: res.Rule}
		}
		switch d {
		case Deny:
			return CheckResult{Decision: Deny, Rule: res.Rule}
		case AskUser:
			if res.Decision == Allow {
				res.Decision = AskUser
			}
		}
	}
	return res
}

// runChecker invokes a checker, converting a panic into an error so a
// broken checker cannot grant access it should have blocked.
func runChecker(ctx context.Context, c Checker, a Action) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = Deny
			err = fmt.Errorf("checker %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Check(ctx, a)
}

// CheckHook gates a hook execution. Hooks are denied wholesale when
// disabled, project-scoped hooks are denied in untrusted workspaces, and
// hook checkers may deny or escalate; otherwise hooks default to ALLOW.
func (e *Engine) CheckHook(req HookRequest) Decision {
	e.mu.RLock()
	enabled := e.hooksEnabled
	trusted := e.workspaceTrusted
	checkers := make([]HookChecker, len(e.hookCheckers))
	copy(checkers, e.hookCheckers)
	e.mu.RUnlock()

	if !enabled {
		return Deny
	}
	if req.ProjectScoped && !trusted {
		return Deny
	}
	for _, c := range checkers {
		d, err := c.Check(req)
		if err != nil {
			slog.Warn("Hook checker failed, denying", "checker", c.Name(), "hook", req.Name, "error", err)
			return Deny
		}
		if d == Deny || d == AskUser {
			return d
		}
	}
	return Allow
}

// AddRule inserts a rule and re-sorts the list so the highest priority
// stays first.
func (e *Engine) AddRule(r Rule) error {
	if err := r.normalize(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &r)
	sortRules(e.rules)
	return nil
}

// AddRules inserts a batch of pre-normalized rules (from a rule file).
func (e *Engine) AddRules(rules []*Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rules...)
	sortRules(e.rules)
}

// RemoveRulesForTool drops every rule whose tool selector is exactly name.
func (e *Engine) RemoveRulesForTool(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.rules[:0]
	for _, r := range e.rules {
		if r.ToolName != name {
			kept = append(kept, r)
		}
	}
	e.rules = kept
}

// AddChecker registers a safety checker.
func (e *Engine) AddChecker(c Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkers = append(e.checkers, c)
}

// AddHookChecker registers a hook checker.
func (e *Engine) AddHookChecker(c HookChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hookCheckers = append(e.hookCheckers, c)
}

// SetApprovalMode switches the engine's approval posture.
func (e *Engine) SetApprovalMode(mode ApprovalMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// Mode returns the current approval mode.
func (e *Engine) Mode() ApprovalMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetNonInteractive toggles the ASK_USER to DENY coercion.
func (e *Engine) SetNonInteractive(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonInteractive = v
}

// Rules returns a snapshot of the rule list in priority order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// sortRules orders rules by descending priority, keeping insertion order
// for equal priorities.
func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}
