package remote

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/systmms/vaultsync/pkg/vault"
)

// predicateCache keeps compiled predicates keyed by source.
type predicateCache struct {
	mu       sync.RWMutex
	programs map[string]*exprvm.Program
}

func newPredicateCache() *predicateCache {
	return &predicateCache{programs: make(map[string]*exprvm.Program)}
}

func (c *predicateCache) compile(expression string) (*exprvm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid predicate %q: %w", expression, err)
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()
	return program, nil
}

// predicateProgram is a compiled predicate. A nil program matches every
// record.
type predicateProgram struct {
	program *exprvm.Program
}

func (c *predicateCache) load(expression string) (*predicateProgram, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := c.compile(expression)
	if err != nil {
		return nil, err
	}
	return &predicateProgram{program: program}, nil
}

func (p *predicateProgram) eval(rec vault.Record) (bool, error) {
	if p == nil {
		return true, nil
	}
	env := rec.Fields.Map()
	env["name"] = rec.ID.Name
	env["kind"] = string(rec.ID.Kind)
	env["zone"] = rec.ID.Zone.Name

	out, err := exprlang.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate predicate on %s: %w", rec.ID, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// zoneSelected reports whether zone is in scope of q.
func zoneSelected(q Query, zone vault.ZoneID) bool {
	if q.Owner != "" && zone.Owner != q.Owner {
		return false
	}
	if len(q.Zones) == 0 {
		return true
	}
	for _, z := range q.Zones {
		if z == zone {
			return true
		}
	}
	return false
}
