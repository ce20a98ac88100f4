// Package rules evaluates tenant-authored redirection rules against a call
// before it is queued. Conditions are expr expressions compiled against a
// fixed environment, so tenant configuration can never run arbitrary code.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

// Context is the evaluation environment a rule condition sees. It is the
// whole surface: conditions cannot reach anything else.
type Context struct {
	Intent      string  `expr:"intent"`
	TotalAmount float64 `expr:"total_amount"`
	GroupSize   int     `expr:"group_size"`
	IsVIP       bool    `expr:"is_vip"`
}

// ContextFrom builds the rule environment for an admitted call.
func ContextFrom(job core.CallJob) Context {
	env := Context{Intent: string(job.Intent)}
	if job.Customer != nil {
		env.IsVIP = job.Customer.Status == core.CustomerStatusVIP
		env.TotalAmount = job.Customer.TotalSpent
	}
	if job.Payload.Metadata != nil {
		if amount, ok := toFloat(job.Payload.Metadata["total_amount"]); ok {
			env.TotalAmount = amount
		}
		if size, ok := toInt(job.Payload.Metadata["group_size"]); ok {
			env.GroupSize = size
		}
	}
	return env
}

// Match is the outcome of a rule hit.
type Match struct {
	Rule  core.RedirectionRule
	Index int
}

type compiledRule struct {
	rule    core.RedirectionRule
	program *vm.Program
}

// Engine holds an ordered list of compiled rules. Engines are immutable;
// configuration updates build a new Engine and swap it in.
type Engine struct {
	rules  []compiledRule
	logger core.Logger
}

// Compile validates and compiles every rule. A malformed rule fails the
// whole compile so bad configuration is rejected at update time, not at
// call time.
func Compile(ruleList []core.RedirectionRule, logger core.Logger) (*Engine, error) {
	engine := &Engine{logger: glog.Ensure(logger)}
	for i, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules: rule %d: %w", i, err)
		}
		program, err := expr.Compile(rule.Condition, expr.Env(Context{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rules: rule %d condition %q: %w", i, rule.Condition, err)
		}
		engine.rules = append(engine.rules, compiledRule{rule: rule, program: program})
	}
	return engine, nil
}

// CompileLenient compiles what it can, logging and skipping malformed
// rules instead of failing. Used when loading stored configuration so one
// bad rule cannot take admission down for the tenant.
func CompileLenient(ruleList []core.RedirectionRule, logger core.Logger) *Engine {
	engine := &Engine{logger: glog.Ensure(logger)}
	for i, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			engine.logger.Error("skipping invalid rule", "rule_index", i, "error", err)
			continue
		}
		program, err := expr.Compile(rule.Condition, expr.Env(Context{}), expr.AsBool())
		if err != nil {
			engine.logger.Error("skipping unparsable rule condition",
				"rule_index", i,
				"condition", rule.Condition,
				"error", err,
			)
			continue
		}
		engine.rules = append(engine.rules, compiledRule{rule: rule, program: program})
	}
	return engine
}

// Evaluate runs the rules in order and returns the first match. A rule
// whose condition errors at runtime is logged and treated as non-matching.
func (e *Engine) Evaluate(_ context.Context, env Context) (Match, bool) {
	if e == nil {
		return Match{}, false
	}
	for i, compiled := range e.rules {
		output, err := expr.Run(compiled.program, env)
		if err != nil {
			e.logger.Error("rule condition failed at runtime",
				"rule_index", i,
				"condition", compiled.rule.Condition,
				"error", err,
			)
			continue
		}
		matched, ok := output.(bool)
		if !ok {
			e.logger.Error("rule condition returned non-boolean",
				"rule_index", i,
				"condition", compiled.rule.Condition,
			)
			continue
		}
		if matched {
			return Match{Rule: compiled.rule, Index: i}, true
		}
	}
	return Match{}, false
}

// Rules returns a copy of the source rules in evaluation order.
func (e *Engine) Rules() []core.RedirectionRule {
	if e == nil {
		return nil
	}
	out := make([]core.RedirectionRule, 0, len(e.rules))
	for _, compiled := range e.rules {
		out = append(out, compiled.rule)
	}
	return out
}

func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// ParseRules decodes a JSON rule list as stored in tenant configuration.
func ParseRules(data []byte) ([]core.RedirectionRule, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var ruleList []core.RedirectionRule
	if err := json.Unmarshal(data, &ruleList); err != nil {
		return nil, fmt.Errorf("rules: decode rule list: %w", err)
	}
	return ruleList, nil
}

// EncodeRules serializes a rule list for storage.
func EncodeRules(ruleList []core.RedirectionRule) ([]byte, error) {
	if ruleList == nil {
		ruleList = []core.RedirectionRule{}
	}
	data, err := json.Marshal(ruleList)
	if err != nil {
		return nil, fmt.Errorf("rules: encode rule list: %w", err)
	}
	return data, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
