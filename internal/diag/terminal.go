package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	// 运行期状态
	workers    int
	filesTotal int
	filesDone  int
	filesFail  int
	lines      int64
	runStart   time.Time

	// 进行中文件：fileID -> 已处理行数
	active map[string]int64

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled, active: map[string]int64{}}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	return t
}

// IsTTY 报告输出端是否为交互终端。
func (t *Terminal) IsTTY() bool {
	if t == nil {
		return false
	}
	return t.isTTY
}

// RunStart: 记录运行上下文（worker 数、文件数）。
func (t *Terminal) RunStart(workers, files int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.workers = workers
	t.filesTotal = files
	t.filesDone, t.filesFail, t.lines = 0, 0, 0
	t.active = map[string]int64{}
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] workers=%d | 文件=%d", workers, files))
}

// FileStart: 标记文件开始。
func (t *Terminal) FileStart(fileID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.active[fileID] = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[file] %s | 开始", shortenBase(fileID, 48)))
	}
}

// FileProgress: 周期性进度（≥100ms 节流，仅 TTY）。
func (t *Terminal) FileProgress(fileID string, lines, failed int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.active[fileID] = lines
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	var inflight int64
	for _, n := range t.active {
		inflight += n
	}
	line := fmt.Sprintf("[file] %s | 行 %d | 错误 %d | 文件 %d/%d | 合计行 %d | 用时 %s",
		shortenBase(fileID, 48), lines, failed, t.filesDone, t.filesTotal, t.lines+inflight, formatSince(t.runStart))
	t.printInline(line)
}

// FileFinish: 完成文件（立即刷新并换行）。
func (t *Terminal) FileFinish(fileID string, ok bool, lines, failed int64, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	delete(t.active, fileID)
	t.filesDone++
	t.lines += lines
	status := "done"
	if !ok {
		status = "fail"
		t.filesFail++
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 行 %d | 错误 %d | 用时 %s",
		status, shortenBase(fileID, 48), lines, failed, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 文件 %d（失败 %d）| 行 %d | 总用时 %s",
		tag, t.filesDone, t.filesFail, t.lines, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时补空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	rs := []rune(base)
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
