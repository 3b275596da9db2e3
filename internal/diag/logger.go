package diag

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) charm() charmlog.Level {
	switch l {
	case Debug:
		return charmlog.DebugLevel
	case Warn:
		return charmlog.WarnLevel
	case Error:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// DefaultLogDir 与 DefaultLogMaxBytes 为 NewLogger 的落盘参数。
const (
	DefaultLogDir      = "logs"
	DefaultLogMaxBytes = 10 * 1024 * 1024
)

// Logger 为结构化日志器：每个事件一行 JSON，写入轮转文件；nil 接收者上的调用均为 no-op。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	base   *charmlog.Logger
}

// NewLogger 通过配置的 level 初始化，将日志写入 dir（空则为 logs/），10 MiB 轮转。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLogDir
	}
	sink := NewRotatingFile(dir, DefaultLogMaxBytes)
	l := NewLoggerTo(fallback{primary: sink}, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 io.Writer（nil 时为 stderr）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl := parseLevel(strings.TrimSpace(level))
	base := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl.charm(),
		Formatter:       charmlog.JSONFormatter,
		Fields:          []interface{}{"corr_id", corrID},
	})
	return &Logger{corrID: corrID, level: lvl, base: base}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// ValidLevel 判断字符串是否为受支持的日志级别。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Close 关闭底层轮转文件（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件结构；字段名即 JSON 键名。
type Event struct {
	Comp   string
	Stage  string // start|finish|error|warn
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Batch  string
	Msg    string
	KV     map[string]string
}

func (ev Event) keyvals() []interface{} {
	kv := make([]interface{}, 0, 16+2*len(ev.KV))
	kv = append(kv, "comp", ev.Comp, "stage", ev.Stage)
	if ev.Code != "" {
		kv = append(kv, "code", ev.Code)
	}
	if ev.DurMS != 0 {
		kv = append(kv, "dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		kv = append(kv, "count", ev.Count)
	}
	if ev.FileID != "" {
		kv = append(kv, "file_id", ev.FileID)
	}
	if ev.Batch != "" {
		kv = append(kv, "batch_id", ev.Batch)
	}
	if len(ev.KV) > 0 {
		// 固定顺序，便于比对
		keys := make([]string, 0, len(ev.KV))
		for k := range ev.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			kv = append(kv, "kv."+k, ev.KV[k])
		}
	}
	return kv
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || l.base == nil || lv < l.level {
		return
	}
	l.base.Log(lv.charm(), ev.Msg, ev.keyvals()...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID, batch string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// StartWithKV 记录带 file_id/batch_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, batch string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 file_id/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, batch string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Batch: batch})
}

// ErrorWithKV 支持附带键值对（例如行号、错误样本）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, batch string, kv map[string]string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Batch: batch, KV: kv})
}

// WarnWith 记录可恢复问题（行级错误汇总等）。
func (l *Logger) WarnWith(comp, msg, fileID string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Msg: msg, FileID: fileID, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, batch string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	batch  string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Batch: t.batch, Msg: msg})
}

// fallback 在主写入失败时改写 stderr，避免丢日志。
type fallback struct {
	primary io.Writer
}

func (f fallback) Write(p []byte) (int, error) {
	n, err := f.primary.Write(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		return os.Stderr.Write(p)
	}
	return n, nil
}
