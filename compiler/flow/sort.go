package flow

import (
	"github.com/weftlang/weft/compiler/tape"
)

// CondSwap orders a pair of secret values without revealing the
// comparison: one comparison and one multiplication per pair.
func (c *Ctx) CondSwap(x, y tape.Reg) (lo, hi tape.Reg) {
	b := c.SecretLt(x, y)
	d := c.SecretMul(b, c.SecretSub(x, y))

	lo = c.SecretAdd(y, d)
	hi = c.SecretSub(x, d)

	return lo, hi
}

// OddEvenMergeSort sorts a secret array in place with a Batcher
// network.  The swap schedule is public, only the element order stays
// hidden.  The length must be a power of two.
func (c *Ctx) OddEvenMergeSort(a *Array) {
	n := a.Len

	if a.Kind != tape.Secret {
		tape.Unsupportedf("sort", "sorting network works on secret arrays, got %v", a.Kind)
	}

	if n&(n-1) != 0 || n == 0 {
		tape.Unsupportedf("sort", "array length %d is not a power of two", n)
	}

	if n == 1 {
		return
	}

	for p := int64(1); p < n; p <<= 1 {
		for k := p; k >= 1; k >>= 1 {
			off := k % p

			if n-k-off <= 0 {
				continue
			}

			c.ForRangeOptN(C(n-k-off), func(c *Ctx, t Value) {
				m := c.Add(t, C(off))

				// comparators sit in the low half of each 2k stripe
				// and never straddle a 2p block
				inPhase := c.Lt(c.Mod(t, C(2*k)), C(k))
				sameBlock := c.Eq(c.Div(m, C(2*p)), c.Div(c.Add(m, C(k)), C(2*p)))

				c.If(c.Mul(inPhase, sameBlock), func(c *Ctx) {
					x := a.Get(c, m)
					y := a.Get(c, c.Add(m, C(k)))

					lo, hi := c.CondSwap(x, y)

					a.Set(c, m, lo)
					a.Set(c, c.Add(m, C(k)), hi)
				})
			})
		}
	}
}
