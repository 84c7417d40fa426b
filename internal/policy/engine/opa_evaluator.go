package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.registry.authz.allow"

// DefaultPolicy grants admin actions to the admin role, to holders of the matching permission,
// and lets a user revoke their own sessions.
const DefaultPolicy = `package registry.authz

default allow := false

allow if {
	input.subject.role == "admin"
}

allow if {
	some p in input.subject.permissions
	p == input.action
}

allow if {
	input.action == "sessions:revoke"
	input.subject.id != ""
	input.subject.id == input.resource.owner_id
}
`

// OPAEvaluator evaluates authorization requests with an in-process Rego policy prepared once at startup.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or DefaultPolicy when policy is blank.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("authz.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile authz policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// NewOPAEvaluatorFromFile reads a Rego file; an empty path uses DefaultPolicy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if strings.TrimSpace(path) == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authz policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// Allow evaluates req. Any evaluation problem denies and returns the error.
func (e *OPAEvaluator) Allow(ctx context.Context, req Request) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(req)))
	if err != nil {
		return false, fmt.Errorf("eval authz policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, errors.New("authz policy returned no result")
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("authz policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allowed, nil
}

// HealthCheck evaluates a request that must be denied, proving the engine compiles and runs.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	allowed, err := e.Allow(ctx, Request{Action: "healthcheck"})
	if err != nil {
		return err
	}
	if allowed {
		return errors.New("authz policy allows anonymous requests")
	}
	return nil
}

func buildInput(req Request) map[string]interface{} {
	perms := make([]interface{}, 0, len(req.Subject.Permissions))
	for _, p := range req.Subject.Permissions {
		perms = append(perms, p)
	}
	return map[string]interface{}{
		"subject": map[string]interface{}{
			"id":          req.Subject.UserID,
			"role":        req.Subject.Role,
			"permissions": perms,
		},
		"action": req.Action,
		"resource": map[string]interface{}{
			"owner_id": req.OwnerID,
		},
	}
}
