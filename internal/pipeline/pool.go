package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"jsonlnorm/internal/diag"
	"jsonlnorm/pkg/contract"
)

// Handler 处理单行：纯函数，可被多个 worker 并发调用。
type Handler func(item contract.WorkItem) contract.Outcome

// Task 为提交到 Pool 的单行任务；结果写回 Reply。
// Reply 的容量需不小于提交方的在途上限，保证 worker 永不阻塞在回写上。
type Task struct {
	Ctx   context.Context
	Item  contract.WorkItem
	Reply chan<- contract.Outcome
}

// Pool 为作业级有界 worker 池：所有文件共享，W 个 worker 消费同一有界队列。
// - 队列满时 Submit 阻塞（背压）；
// - W==1 时严格串行（单 worker，FIFO 队列）；
// - 任务的 ctx 已取消时不再计算，直接回写 ctx 错误。
type Pool struct {
	tasks   chan Task
	handle  Handler
	workers int

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool 启动 workers 个 worker；queueDepth<=0 时取 2×workers。
func NewPool(workers, queueDepth int, h Handler) (*Pool, error) {
	if workers < 1 {
		return nil, contract.Configf("workers must be >= 1, got %d", workers)
	}
	if h == nil {
		return nil, contract.Configf("pool handler is nil")
	}
	if queueDepth <= 0 {
		queueDepth = workers * 2
	}
	p := &Pool{tasks: make(chan Task, queueDepth), handle: h, workers: workers}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p, nil
}

func (p *Pool) work() {
	defer p.wg.Done()
	for t := range p.tasks {
		if err := t.Ctx.Err(); err != nil {
			t.Reply <- contract.Outcome{Index: t.Item.Index, Err: err}
			continue
		}
		t.Reply <- p.handle(t.Item)
	}
}

// Workers 返回 worker 数。
func (p *Pool) Workers() int { return p.workers }

// QueueDepth 返回队列容量。
func (p *Pool) QueueDepth() int { return cap(p.tasks) }

// Submit 入队；队列满时阻塞直到有空位或 ctx 取消。
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: submit on closed pool", contract.ErrInvariantViolation)
	}
	if t.Ctx == nil {
		t.Ctx = ctx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- t:
		return nil
	}
}

// Close 停止接收新任务，等待已入队任务全部完成。可重复调用。
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// TransformHandler 将 Transformer 绑定到文本字段，生成行级 Handler。
// 空白行记为 Skipped；变换失败记为 RecordError 并保留原始行（供透传策略使用）。
func TransformHandler(tr contract.Transformer, field string) Handler {
	return func(it contract.WorkItem) contract.Outcome {
		if len(bytes.TrimSpace(it.Line)) == 0 {
			diag.AddLines("skipped", 1)
			return contract.Outcome{Index: it.Index, Skipped: true}
		}
		out, err := tr.Transform(it.Line, field)
		if err != nil {
			diag.AddLines("failed", 1)
			return contract.Outcome{Index: it.Index, Line: it.Line, Err: &contract.RecordError{Index: it.Index, Err: err}}
		}
		diag.AddLines("normalized", 1)
		return contract.Outcome{Index: it.Index, Line: out}
	}
}
