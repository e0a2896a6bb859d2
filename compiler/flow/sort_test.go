package flow

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlang/weft/compiler/exec"
	"github.com/weftlang/weft/compiler/tape"
)

func TestCondSwap(t *testing.T) {
	var lo, hi int64

	p := compile(t, func(c *Ctx) {
		x := c.NewMemValue(tape.Secret)
		y := c.NewMemValue(tape.Secret)

		l, h := c.CondSwap(x.Read(c), y.Read(c))

		lm := c.NewMemValue(tape.Secret)
		hm := c.NewMemValue(tape.Secret)

		lm.Write(c, l)
		hm.Write(c, h)

		lo, hi = lm.Addr, hm.Addr
	})

	for _, tc := range [][2]int64{{3, 8}, {8, 3}, {5, 5}, {-2, 4}} {
		m := exec.New(p)
		m.Store(tape.Secret, 0, tc[0])
		m.Store(tape.Secret, 1, tc[1])

		require.NoError(t, m.Run())

		assert.Equal(t, min64(tc[0], tc[1]), m.Load(tape.Secret, lo), "pair %v", tc)
		assert.Equal(t, max64(tc[0], tc[1]), m.Load(tape.Secret, hi), "pair %v", tc)
	}
}

func TestOddEvenMergeSort(t *testing.T) {
	for _, vals := range [][]int64{
		{4},
		{9, 2},
		{4, 1, 3, 2},
		{8, 7, 6, 5, 4, 3, 2, 1},
		{5, 1, 5, 0, 3, 3, 9, 1},
		{0, 0, 0, 0, 0, 0, 0, 1},
	} {
		n := int64(len(vals))

		var base int64

		p := compile(t, func(c *Ctx) {
			a := c.NewArray(tape.Secret, n)
			base, _ = a.Base.Static()

			c.OddEvenMergeSort(a)
		})

		m := exec.New(p)
		for i, v := range vals {
			m.Store(tape.Secret, base+int64(i), v)
		}

		require.NoError(t, m.Run())

		want := append([]int64{}, vals...)
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		got := make([]int64, n)
		for i := range got {
			got[i] = m.Load(tape.Secret, base+int64(i))
		}

		assert.Equal(t, want, got, "input %v", vals)
	}
}

func TestOddEvenMergeSortCost(t *testing.T) {
	p := compile(t, func(c *Ctx) {
		c.OddEvenMergeSort(c.NewArray(tape.Secret, 8))
	})

	cost := p.Main().Aggregate()

	// every pass compiles one guarded comparator per index: 33 slots
	// over 6 passes, 3 triples each (comparison 2, swap mul 1)
	assert.Equal(t, 99.0, cost["triple"], "cost %v", cost)
}

func TestSortLengthNotPowerOfTwo(t *testing.T) {
	_, err := tryCompile(0, func(c *Ctx) {
		c.OddEvenMergeSort(c.NewArray(tape.Secret, 6))
	})

	if _, ok := err.(*tape.UnsupportedError); !ok {
		t.Errorf("want unsupported error, got %v", err)
	}
}

func TestSortPublicArray(t *testing.T) {
	_, err := tryCompile(0, func(c *Ctx) {
		c.OddEvenMergeSort(c.NewArray(tape.Int, 8))
	})

	if _, ok := err.(*tape.UnsupportedError); !ok {
		t.Errorf("want unsupported error, got %v", err)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}
