package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/semaphore"

	"jsonlnorm/internal/diag"
	"jsonlnorm/pkg/contract"
)

// 行级错误策略。
const (
	OnErrorDrop        = "drop"
	OnErrorPassthrough = "passthrough"
)

// DefaultMaxErrorSamples 为 JobResult.Errors 默认保留的行级错误样本数。
const DefaultMaxErrorSamples = 10

// JobResult 单个文件的处理结果。
// Processed 为成功规范化并写出的行；Skipped 为空白行；Failed 为行级错误（透传策略下原样写出）。
type JobResult struct {
	Input     string
	Output    string
	Processed int64
	Skipped   int64
	Failed    int64
	// Errors 仅保留前 N 个行级错误样本。
	Errors   []contract.RecordError
	Err      error
	Duration time.Duration
}

// OK 表示文件级成功（行级错误不影响）。
func (r JobResult) OK() bool { return r.Err == nil }

// FileSettings 单文件处理参数。
type FileSettings struct {
	// FileID 仅用于日志与终端提示。
	FileID contract.FileID
	// Window: 单文件在途行上限（队列中 + 计算中 + 门闩暂存）；<=0 取 4×队列容量。
	Window int
	// OnError: drop（默认）或 passthrough。
	OnError string
	// MaxErrorSamples: <=0 取 DefaultMaxErrorSamples。
	MaxErrorSamples int
}

func (fs FileSettings) window(p *Pool) int {
	if fs.Window > 0 {
		return fs.Window
	}
	return 4 * p.QueueDepth()
}

type produced struct {
	n   int64
	err error
}

// RunFile 流式处理一个 JSONL 流：逐行读取、提交到共享 Pool、按行序写出。
// 约束：
// - 每个物理行一个 Index（0 起），输出严格按 Index 递增；
// - 行级错误按策略丢弃或透传，不中断文件；
// - 读/写错误或 ctx 取消终止本文件：停止读取，排空已提交任务，不再写出，返回该错误；
// - out 不由 RunFile 关闭。
func RunFile(ctx context.Context, in io.Reader, out io.Writer, pool *Pool, fs FileSettings, logger *diag.Logger) (JobResult, error) {
	var res JobResult
	if pool == nil {
		return res, fmt.Errorf("%w: nil pool", contract.ErrInvariantViolation)
	}
	if fs.OnError == "" {
		fs.OnError = OnErrorDrop
	}
	if fs.OnError != OnErrorDrop && fs.OnError != OnErrorPassthrough {
		return res, contract.Configf("unknown on_error policy %q", fs.OnError)
	}
	maxSamples := fs.MaxErrorSamples
	if maxSamples <= 0 {
		maxSamples = DefaultMaxErrorSamples
	}
	fileID := string(fs.FileID)
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	window := fs.window(pool)
	sem := semaphore.NewWeighted(int64(window))
	replies := make(chan contract.Outcome, window)
	done := make(chan produced, 1)

	// 生产者：读取行并提交；在途行数受 window 约束，提交后立即继续读取。
	go func() {
		br, ok := in.(*bufio.Reader)
		if !ok {
			br = bufio.NewReaderSize(in, 64*1024)
		}
		var idx int64
		var perr error
		for {
			if err := ctx.Err(); err != nil {
				perr = err
				break
			}
			line, rerr := br.ReadBytes('\n')
			if len(line) > 0 {
				if err := sem.Acquire(ctx, 1); err != nil {
					perr = err
					break
				}
				t := Task{Ctx: ctx, Item: contract.WorkItem{Index: idx, Line: trimEOL(line)}, Reply: replies}
				if err := pool.Submit(ctx, t); err != nil {
					sem.Release(1)
					perr = err
					break
				}
				idx++
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				perr = &contract.FileError{Path: fileID, Op: "read", Err: rerr}
				break
			}
		}
		done <- produced{n: idx, err: perr}
	}()

	bw := bufio.NewWriterSize(out, 64*1024)
	g := newGate()
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	term := diag.GetTerminal()
	total := int64(-1)
	var received int64
	doneCh := done
	for total < 0 || received < total {
		select {
		case p := <-doneCh:
			total = p.n
			doneCh = nil
			if p.err != nil {
				fail(p.err)
			}
		case o := <-replies:
			received++
			if firstErr != nil {
				// 已失败：只排空，不再写出
				sem.Release(1)
				continue
			}
			if o.Err != nil && !contract.IsRecordError(o.Err) {
				sem.Release(1)
				fail(o.Err)
				continue
			}
			ready, err := g.push(o)
			if err != nil {
				sem.Release(1)
				fail(err)
				continue
			}
			for _, r := range ready {
				sem.Release(1)
				if firstErr != nil {
					continue
				}
				if err := commit(bw, r, fs.OnError, maxSamples, &res); err != nil {
					fail(&contract.FileError{Path: fileID, Op: "write", Err: err})
				}
			}
			term.FileProgress(fileID, res.Processed+res.Skipped+res.Failed, res.Failed)
		}
	}

	if firstErr == nil {
		if err := bw.Flush(); err != nil {
			fail(&contract.FileError{Path: fileID, Op: "write", Err: err})
		}
	}
	if firstErr == nil && g.pending() > 0 {
		fail(fmt.Errorf("%w: %d outcomes left behind the gate", contract.ErrInvariantViolation, g.pending()))
	}
	res.Duration = time.Since(start)
	diag.ObserveDuration("file_pipeline", "run", res.Duration.Milliseconds())
	if firstErr != nil {
		code := diag.Classify(firstErr)
		logger.ErrorWith("file_pipeline", string(code), firstErr.Error(), &start, fileID, "")
		diag.IncOp("file_pipeline", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("file_pipeline", string(code))
		}
		return res, firstErr
	}
	diag.IncOp("file_pipeline", "finish", "success")
	return res, nil
}

// commit 按策略写出一个已放行的结果并累计计数。
func commit(w *bufio.Writer, o contract.Outcome, policy string, maxSamples int, res *JobResult) error {
	switch {
	case o.Skipped:
		res.Skipped++
		return nil
	case o.Err != nil:
		res.Failed++
		if len(res.Errors) < maxSamples {
			var re *contract.RecordError
			if errors.As(o.Err, &re) {
				res.Errors = append(res.Errors, *re)
			} else {
				res.Errors = append(res.Errors, contract.RecordError{Index: o.Index, Err: o.Err})
			}
		}
		if policy != OnErrorPassthrough {
			return nil
		}
	default:
		res.Processed++
	}
	return writeLine(w, o.Line)
}

// writeLine 写出 line 与换行，保证 w 只在行边界落盘：
// 放不下时先 Flush；超过整个缓冲区的行拼接后单次写出。
func writeLine(w *bufio.Writer, line []byte) error {
	need := len(line) + 1
	if w.Buffered() > 0 && need > w.Available() {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if need > w.Available() {
		buf := make([]byte, 0, need)
		buf = append(append(buf, line...), '\n')
		_, err := w.Write(buf)
		return err
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// trimEOL 去掉行尾 \n 与 \r\n。
func trimEOL(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
		if n > 0 && b[n-1] == '\r' {
			n--
		}
	}
	return b[:n]
}
