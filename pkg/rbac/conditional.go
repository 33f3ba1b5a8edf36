package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/jacobsprake/munin/pkg/apierr"
)

// celVars declares the fields of Context a conditional-access expression
// may reference, mirroring the fields the teacher's struct-based
// conditional access engine matched on (source address, role, resource,
// action) but expressed as CEL predicates instead of fixed struct tags.
var celVars = []cel.EnvOption{
	cel.Variable("user_id", cel.StringType),
	cel.Variable("role", cel.StringType),
	cel.Variable("resource", cel.StringType),
	cel.Variable("action", cel.StringType),
	cel.Variable("source_addr", cel.StringType),
}

// CELGate layers one or more compiled CEL boolean expressions on top of
// the static matrix. A request is allowed only if every installed
// expression evaluates to true; this is a narrowing control, never a
// substitute for the static grant in HasPermission.
type CELGate struct {
	mu       sync.RWMutex
	programs []cel.Program
}

// NewCELGate creates an empty gate that allows everything until
// AddPolicy installs at least one expression.
func NewCELGate() (*CELGate, error) {
	return &CELGate{}, nil
}

// AddPolicy compiles expr (a CEL boolean expression over user_id, role,
// resource, action, source_addr) and installs it. A deployment might use
// this to confine `cmi{activate}` to an air-gapped management subnet:
//
//	resource != "cmi" || source_addr.startsWith("10.0.")
func (g *CELGate) AddPolicy(expr string) error {
	env, err := cel.NewEnv(celVars...)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "create CEL environment", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return apierr.Wrap(apierr.KindInputInvalid, "compile conditional access policy", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "build CEL program", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.programs = append(g.programs, prg)
	return nil
}

// Evaluate reports whether rc satisfies every installed policy.
func (g *CELGate) Evaluate(ctx context.Context, rc Context) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	vars := map[string]interface{}{
		"user_id":     rc.UserID,
		"role":        rc.Role,
		"resource":    rc.Resource,
		"action":      rc.Action,
		"source_addr": rc.SourceAddr,
	}

	for _, prg := range g.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			return false, apierr.Wrap(apierr.KindInternal, "evaluate conditional access policy", err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return false, apierr.New(apierr.KindInternal, fmt.Sprintf("conditional access policy returned non-boolean %T", out.Value()))
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}
