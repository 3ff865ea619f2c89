package engine

import "fmt"

// Chain is the wired handler graph. It is constructed once per process; a
// wiring mistake (unset edge, unknown target, cycle) is a start-up error,
// never a request-time one.
type Chain struct {
	entry    ID
	handlers map[ID]Handler
	edges    map[ID]map[string]ID
}

// defaultWiring declares the outbound edge of every handler by name.
func defaultWiring() map[ID]map[string]ID {
	return map[ID]map[string]ID{
		ServiceCoverage: {
			edgeCovered: BenefitLimitation,
		},
		BenefitLimitation: {
			edgeWithinLimit: OOPMax,
		},
		OOPMax: {
			edgeCopayContinues:  OOPMaxCopay,
			edgeApplyDeductible: Deductible,
		},
		Deductible: {
			edgeDeductibleFirst: DeductibleCopay,
			edgeCopayAndCoins:   DeductibleCostShareCopay,
			edgeCostShare:       CostShareCopay,
			edgeOOPExhausting:   DeductibleOOPMax,
		},
		CostShareCopay: {
			edgeCopayContinues: OOPMaxCopay,
			edgeCoinsurance:    DeductibleCoinsurance,
		},
		DeductibleCostShareCopay: {
			edgeCoinsurance: DeductibleCoinsurance,
		},
		DeductibleCopay: {
			edgeCoinsurance: DeductibleCoinsurance,
		},
		OOPMaxCopay:           {},
		DeductibleOOPMax:      {},
		DeductibleCoinsurance: {},
	}
}

// New builds and validates the default chain.
func New() (*Chain, error) {
	handlers := []Handler{
		serviceCoverage{},
		benefitLimitation{},
		oopMax{},
		oopMaxCopay{},
		deductibleHandler{},
		costShareCopay{},
		deductibleCostShareCopay{},
		deductibleOOPMax{},
		deductibleCopay{},
		deductibleCoinsurance{},
	}
	byID := make(map[ID]Handler, len(handlers))
	for _, h := range handlers {
		byID[h.ID()] = h
	}

	ch := &Chain{
		entry:    ServiceCoverage,
		handlers: byID,
		edges:    defaultWiring(),
	}
	if err := ch.validate(); err != nil {
		return nil, err
	}
	return ch, nil
}

// MustNew builds the default chain and panics on a wiring error. Intended
// for process start-up.
func MustNew() *Chain {
	ch, err := New()
	if err != nil {
		panic(err)
	}
	return ch
}

// validate checks that every declared edge is wired to a known handler and
// that the wired graph is acyclic.
func (ch *Chain) validate() error {
	if _, ok := ch.handlers[ch.entry]; !ok {
		return fmt.Errorf("chain entry %q has no handler", ch.entry)
	}
	for id, h := range ch.handlers {
		wired := ch.edges[id]
		for _, edge := range h.Edges() {
			target, ok := wired[edge]
			if !ok {
				return fmt.Errorf("handler %q: edge %q is not wired", id, edge)
			}
			if _, ok := ch.handlers[target]; !ok {
				return fmt.Errorf("handler %q: edge %q targets unknown handler %q", id, edge, target)
			}
		}
		for edge := range wired {
			if !contains(h.Edges(), edge) {
				return fmt.Errorf("handler %q: wiring declares unknown edge %q", id, edge)
			}
		}
	}
	return ch.checkAcyclic()
}

// checkAcyclic runs a three-color DFS over the wired graph.
func (ch *Chain) checkAcyclic() error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[ID]int, len(ch.handlers))

	var visit func(id ID) error
	visit = func(id ID) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("chain wiring has a cycle through %q", id)
		case black:
			return nil
		}
		color[id] = grey
		for _, target := range ch.edges[id] {
			if err := visit(target); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	return visit(ch.entry)
}

// Run executes the chain on one context. Handlers never fail: the run always
// ends with a completed context. The visit bound equals the handler count;
// exceeding it would mean the start-up validation was bypassed.
func (ch *Chain) Run(c *Context) *Context {
	cur := ch.entry
	for range len(ch.handlers) {
		h := ch.handlers[cur]
		c.Trace = append(c.Trace, string(h.ID()))
		edge := h.Process(c)
		if c.CalculationComplete {
			return c
		}
		next, ok := ch.edges[cur][edge]
		if !ok {
			panic(fmt.Sprintf("handler %q followed unwired edge %q", cur, edge))
		}
		cur = next
	}
	panic("handler chain exceeded its visit bound")
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
