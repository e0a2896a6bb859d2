package tape

import (
	"math"
	"testing"
)

func TestAggregators(t *testing.T) {
	a := Cost{"triple": 2, "round": 1}
	b := Cost{"triple": 5}

	sum := SumCosts([]Cost{a, b})
	if sum["triple"] != 7 || sum["round"] != 1 {
		t.Errorf("sum: %v", sum)
	}

	max := MaxCosts([]Cost{a, b})
	if max["triple"] != 5 || max["round"] != 1 {
		t.Errorf("max: %v", max)
	}

	first := FirstCost([]Cost{a, b})
	if first["triple"] != 2 || first["round"] != 1 {
		t.Errorf("first: %v", first)
	}

	sc := ScaledCost(3)([]Cost{a, b})
	if sc["triple"] != 21 || sc["round"] != 3 {
		t.Errorf("scaled: %v", sc)
	}

	unk := UnknownCost([]Cost{a})
	if !math.IsInf(unk["triple"], 1) || !math.IsInf(unk["round"], 1) {
		t.Errorf("unknown: %v", unk)
	}
}

func TestAggregateTree(t *testing.T) {
	smul := func(n int) *BasicBlock {
		b := &BasicBlock{}

		for i := 0; i < n; i++ {
			b.Push(&Instr{Op: Smul})
		}

		return b
	}

	root := &ReqNode{Label: "root"}
	root.AddBlock(smul(1))

	ch := root.AddChild(MaxCosts, "if")
	ch.Nodes[0].AddBlock(smul(4))
	ch.AddNode("else").AddBlock(smul(2))

	cost := root.Aggregate()
	if cost["triple"] != 5 {
		t.Errorf("tree: %v", cost)
	}

	t.Logf("aggregated: %v", cost)
}

func TestCostString(t *testing.T) {
	c := Cost{"round": 2, "triple": 3}

	if s := c.String(); s == "" {
		t.Errorf("empty cost dump")
	} else {
		t.Logf("cost: %v", s)
	}
}
