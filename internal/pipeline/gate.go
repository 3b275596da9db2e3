package pipeline

import (
	"fmt"

	"jsonlnorm/pkg/contract"
)

// gate 为顺序门闩：乱序到达的结果暂存，按 Index 从 expect 起连续放行。
type gate struct {
	expect int64
	buf    map[int64]contract.Outcome
	ready  []contract.Outcome
}

func newGate() *gate {
	return &gate{buf: make(map[int64]contract.Outcome)}
}

// push 缓存 o，返回从 expect 起连续可提交的结果（按 Index 升序）。
// 返回的切片在下一次 push 前有效。
func (g *gate) push(o contract.Outcome) ([]contract.Outcome, error) {
	if o.Index < g.expect {
		return nil, fmt.Errorf("%w: index %d already committed", contract.ErrInvariantViolation, o.Index)
	}
	if _, dup := g.buf[o.Index]; dup {
		return nil, fmt.Errorf("%w: index %d delivered twice", contract.ErrInvariantViolation, o.Index)
	}
	g.buf[o.Index] = o
	g.ready = g.ready[:0]
	for {
		next, ok := g.buf[g.expect]
		if !ok {
			break
		}
		g.ready = append(g.ready, next)
		delete(g.buf, g.expect)
		g.expect++
	}
	return g.ready, nil
}

// pending 返回暂存（未放行）的结果数。
func (g *gate) pending() int { return len(g.buf) }
