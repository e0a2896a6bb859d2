package tape

import (
	"math"
	"sort"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Cost is a symbolic communication/round estimate: counter name to
	// amount.  +Inf marks a region whose repetition count is unknown
	// at compile time.
	Cost map[string]float64

	// Aggregator combines the costs of the nodes of one child.
	Aggregator func(x []Cost) Cost

	// ReqNode mirrors one level of scope nesting.  The root node
	// covers the whole tape, leaf nodes cover individual blocks.
	ReqNode struct {
		Label    string
		Blocks   []*BasicBlock
		Children []*ReqChild
	}

	// ReqChild groups sibling nodes (the arms of a conditional) under
	// one aggregator.
	ReqChild struct {
		Aggregator Aggregator
		Nodes      []*ReqNode
	}
)

func (c Cost) Clone() Cost {
	r := make(Cost, len(c))

	for k, v := range c {
		r[k] = v
	}

	return r
}

func (c Cost) add(x Cost) Cost {
	if len(x) == 0 {
		return c
	}

	if c == nil {
		c = Cost{}
	}

	for k, v := range x {
		c[k] += v
	}

	return c
}

// Sum of sequentially compiled siblings.
func SumCosts(x []Cost) Cost {
	var r Cost

	for _, c := range x {
		r = r.add(c)
	}

	return r
}

// MaxCosts is the pointwise maximum, used for conditional arms: only
// one arm runs, the estimate takes the worse one.
func MaxCosts(x []Cost) Cost {
	var r Cost

	for _, c := range x {
		for k, v := range c {
			if r == nil {
				r = Cost{}
			}

			if v > r[k] {
				r[k] = v
			}
		}
	}

	return r
}

// FirstCost keeps the first node only (conditional without else: the
// skipped path costs nothing).
func FirstCost(x []Cost) Cost {
	if len(x) == 0 {
		return nil
	}

	return x[0]
}

// ScaledCost multiplies by a known repetition count.
func ScaledCost(n int64) Aggregator {
	return func(x []Cost) Cost {
		r := Cost{}

		for _, c := range x {
			for k, v := range c {
				r[k] += float64(n) * v
			}
		}

		return r
	}
}

// UnknownCost marks every counter unbounded: a loop whose repetition
// count is only known at runtime.
func UnknownCost(x []Cost) Cost {
	r := Cost{}

	for _, c := range x {
		for k := range c {
			r[k] = math.Inf(1)
		}
	}

	return r
}

func (n *ReqNode) AddBlock(b *BasicBlock) {
	n.Blocks = append(n.Blocks, b)
}

func (n *ReqNode) AddChild(agg Aggregator, label string) *ReqChild {
	ch := &ReqChild{
		Aggregator: agg,
		Nodes:      []*ReqNode{{Label: label}},
	}

	n.Children = append(n.Children, ch)

	return ch
}

// AddNode opens a sibling arm under the same aggregator.
func (ch *ReqChild) AddNode(label string) *ReqNode {
	n := &ReqNode{Label: label}
	ch.Nodes = append(ch.Nodes, n)

	return n
}

// Aggregate folds the subtree into one cost.  Blocks and children of
// one node run sequentially, so they sum.
func (n *ReqNode) Aggregate() Cost {
	var r Cost

	for _, b := range n.Blocks {
		for _, i := range b.Instrs {
			r = r.add(i.Cost())
		}
	}

	for _, ch := range n.Children {
		r = r.add(ch.Aggregate())
	}

	return r
}

func (ch *ReqChild) Aggregate() Cost {
	x := make([]Cost, len(ch.Nodes))

	for i, n := range ch.Nodes {
		x[i] = n.Aggregate()
	}

	agg := ch.Aggregator
	if agg == nil {
		agg = SumCosts
	}

	return agg(x)
}

func (c Cost) String() string {
	keys := make([]string, 0, len(c))

	for k := range c {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b []byte

	for i, k := range keys {
		if i != 0 {
			b = append(b, ' ')
		}

		b = hfmt.Appendf(b, "%v:%v", k, c[k])
	}

	return string(b)
}

func (c Cost) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	keys := make([]string, 0, len(c))

	for k := range c {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	b = e.AppendMap(b, len(keys))

	for _, k := range keys {
		b = e.AppendString(b, k)
		b = e.AppendFloat(b, c[k])
	}

	return b
}
