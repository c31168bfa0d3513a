package budget

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Default Rego policy: approve small spends while the tenant is under its
// daily cap, degrade to the fallback path near the cap, deny past it.
const defaultRegoPolicy = `package rap.budget

default decision = "deny"

default daily_cap_usd = 25

decision = "approve" if {
	input.estimated_usd <= 1
	input.spent_today_usd + input.estimated_usd <= daily_cap_usd
}

decision = "fallback" if {
	input.estimated_usd > 1
	input.spent_today_usd + input.estimated_usd <= daily_cap_usd
}

decision = "deny" if {
	input.spent_today_usd + input.estimated_usd > daily_cap_usd
}
`

// OPAGate evaluates spend requests against a Rego budget policy. A nil or
// empty policy falls back to the built-in default above. Evaluation failures
// resolve to Deny: a broken policy must not authorise spend.
type OPAGate struct {
	policy string
}

// NewOPAGate returns a gate backed by the given Rego source, or the default
// policy when source is empty.
func NewOPAGate(source string) *OPAGate {
	if source == "" {
		source = defaultRegoPolicy
	}
	return &OPAGate{policy: source}
}

// HealthCheck verifies that the configured policy compiles and evaluates.
func (g *OPAGate) HealthCheck(ctx context.Context) error {
	_, err := g.evaluate(ctx, Request{TenantID: "", Task: "healthcheck"})
	return err
}

// Decide evaluates the budget policy for the proposed spend.
func (g *OPAGate) Decide(ctx context.Context, req Request) (Decision, error) {
	d, err := g.evaluate(ctx, req)
	if err != nil {
		log.Printf("budget: policy evaluation failed for tenant %s: %v, denying", req.TenantID, err)
		return Deny, nil
	}
	return d, nil
}

func (g *OPAGate) evaluate(ctx context.Context, req Request) (Decision, error) {
	compiler, err := ast.CompileModules(map[string]string{"budget.rego": g.policy})
	if err != nil {
		return Deny, fmt.Errorf("compile budget policy: %w", err)
	}

	input := map[string]interface{}{
		"tenant_id":       req.TenantID,
		"task":            req.Task,
		"estimated_usd":   req.EstimatedUSD,
		"spent_today_usd": req.SpentTodayUSD,
	}

	q := rego.New(
		rego.Query("data.rap.budget.decision"),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return Deny, fmt.Errorf("eval budget policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Deny, fmt.Errorf("budget policy returned no result")
	}

	v, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return Deny, fmt.Errorf("budget policy decision is not a string")
	}
	switch Decision(v) {
	case Approve, Deny, Fallback:
		return Decision(v), nil
	default:
		return Deny, fmt.Errorf("budget policy returned unknown decision %q", v)
	}
}
