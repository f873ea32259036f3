// Package policy gates job submissions with an OPA policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the prepared submission policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.submission_policy.decision"),
		rego.Module("submission_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate checks a submission. Input carries at least the model reference.
// Returns "allow" or "block"; the policy defines the default.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "allow", nil
}

// DefaultPolicy blocks submissions whose model reference is not shaped like
// owner/name with an optional version pin. Input payloads stay opaque.
const DefaultPolicy = `
package submission_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	not regex.match("^[a-z0-9][a-z0-9._-]*/[a-z0-9][a-z0-9._-]*(:[a-zA-Z0-9]+)?$", input.model)
}
`
