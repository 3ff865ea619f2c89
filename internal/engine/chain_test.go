package engine

import (
	"strings"
	"testing"
)

func TestDefaultChainValidates(t *testing.T) {
	if _, err := New(); err != nil {
		t.Fatalf("default chain failed validation: %v", err)
	}
}

func TestValidate_UnwiredEdge(t *testing.T) {
	ch, err := New()
	if err != nil {
		t.Fatal(err)
	}
	delete(ch.edges[Deductible], edgeCostShare)

	err = ch.validate()
	if err == nil {
		t.Fatal("expected error for unwired edge")
	}
	if !strings.Contains(err.Error(), "not wired") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownTarget(t *testing.T) {
	ch, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ch.edges[ServiceCoverage][edgeCovered] = ID("no_such_handler")

	err = ch.validate()
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
	if !strings.Contains(err.Error(), "unknown handler") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ExtraWiredEdge(t *testing.T) {
	ch, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ch.edges[OOPMaxCopay] = map[string]ID{"bogus": ServiceCoverage}

	err = ch.validate()
	if err == nil {
		t.Fatal("expected error for undeclared edge")
	}
	if !strings.Contains(err.Error(), "unknown edge") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_CycleDetected(t *testing.T) {
	ch, err := New()
	if err != nil {
		t.Fatal(err)
	}
	// Point a sink back at the entry to form a loop.
	ch.handlers[DeductibleCoinsurance] = loopingHandler{}
	ch.edges[DeductibleCoinsurance] = map[string]ID{"loop": ServiceCoverage}

	err = ch.validate()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_PanicsOnUnwiredEdgeAtRuntime(t *testing.T) {
	ch, err := New()
	if err != nil {
		t.Fatal(err)
	}
	// Bypass validation to simulate a corrupted wiring table.
	delete(ch.edges[ServiceCoverage], edgeCovered)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unwired edge")
		}
	}()
	ch.Run(NewContext(Terms{IsServiceCovered: true, Copay: dec("10")}, dec("100")))
}

func TestTraceRecordsVisitedHandlers(t *testing.T) {
	c := run(t, Terms{
		IsServiceCovered:       true,
		Copay:                  dec("25"),
		OOPIndividualRemaining: some("3000"),
	}, "1000")

	want := []string{
		string(ServiceCoverage),
		string(BenefitLimitation),
		string(OOPMax),
		string(Deductible),
		string(CostShareCopay),
		string(DeductibleCoinsurance),
	}
	if len(c.Trace) != len(want) {
		t.Fatalf("trace %v, want %v", c.Trace, want)
	}
	for i := range want {
		if c.Trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s (full trace %v)", i, c.Trace[i], want[i], c.Trace)
		}
	}
}

type loopingHandler struct{}

func (loopingHandler) ID() ID                    { return DeductibleCoinsurance }
func (loopingHandler) Edges() []string           { return []string{"loop"} }
func (loopingHandler) Process(c *Context) string { return "loop" }
