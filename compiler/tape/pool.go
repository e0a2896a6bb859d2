package tape

import "nikand.dev/go/heap"

// Pool hands out thread slots, lowest free slot first so that slot
// numbering stays deterministic across compilations.
type Pool struct {
	free heap.Heap[int]
	next int
}

func newPool() *Pool {
	return &Pool{
		free: heap.Heap[int]{Less: func(d []int, i, j int) bool { return d[i] < d[j] }},
	}
}

func (p *Pool) Get() int {
	if p.free.Len() != 0 {
		return p.free.Pop()
	}

	s := p.next
	p.next++

	return s
}

func (p *Pool) Put(s int) {
	p.free.Push(s)
}

// Size is the number of slots ever handed out.
func (p *Pool) Size() int { return p.next }
