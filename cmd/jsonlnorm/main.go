package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "jsonlnorm/internal/config"
	"jsonlnorm/internal/diag"
	"jsonlnorm/internal/pipeline"
	"jsonlnorm/pkg/contract"
	"jsonlnorm/pkg/normalize"
)

var pipelineRun = pipeline.RunJob

// 退出码：0 成功；1 存在失败文件或运行期错误；3 配置/参数错误。
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 3
)

// exitCode 作为 RunE 的返回值携带退出码；错误信息已在返回前打印。
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// stdinName 为 STDIN 输入落到输出目录时使用的文件名。
const stdinName = "stdin.jsonl"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）
	_ = godotenv.Load()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ec exitCode
	if errors.As(err, &ec) {
		return int(ec)
	}
	// cobra 自身的参数/旗标错误
	fprintf(stderr, "参数错误: %v\n", err)
	return exitConfig
}

// rootFlags: 仅记录 CLI 旗标；是否覆盖以 Flags().Changed 为准。
type rootFlags struct {
	config          string
	outputDir       string
	textColumn      string
	workers         int
	queueDepth      int
	window          int
	fileConcurrency int
	onError         string
	strictField     bool
	keepAccents     bool
	transliterate   bool
	retain          string
	logLevel        string
	metricsFile     string
	status          bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:   "jsonlnorm [flags] <inputs...>",
		Short: "Normalize one text field of every JSONL record",
		Long: "jsonlnorm 读取 JSONL 文件（或目录、或 \"-\" 表示 STDIN），\n" +
			"规范化每条记录中的文本字段，按原顺序写到输出目录。",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd, &f, args)
		},
	}
	bindRootFlags(cmd.Flags(), &f)
	cmd.AddCommand(newTextCmd(), newInitConfigCmd())
	return cmd
}

func bindRootFlags(fl *pflag.FlagSet, f *rootFlags) {
	fl.StringVar(&f.config, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	fl.StringVarP(&f.outputDir, "output-dir", "o", "", "输出目录（覆盖配置）")
	fl.StringVar(&f.textColumn, "text-column", "", "需要规范化的字段名（覆盖配置）")
	fl.IntVarP(&f.workers, "workers", "w", 0, "worker 数（覆盖配置）")
	fl.IntVar(&f.queueDepth, "queue-depth", 0, "共享队列容量；0 取 2×workers")
	fl.IntVar(&f.window, "window", 0, "单文件在途行上限；0 取 4×queue-depth")
	fl.IntVar(&f.fileConcurrency, "file-concurrency", 0, "同时处理的文件数（覆盖配置）")
	fl.StringVar(&f.onError, "on-error", "", "行级错误策略：drop|passthrough")
	fl.BoolVar(&f.strictField, "strict-field", false, "字段缺失或非字符串时按行错误处理")
	fl.BoolVar(&f.keepAccents, "keep-accents", false, "保留重音符号")
	fl.BoolVar(&f.transliterate, "transliterate", false, "先转写为 ASCII")
	fl.StringVar(&f.retain, "retain", "", "保留的标点/符号字符集合")
	fl.StringVar(&f.logLevel, "log-level", "", "日志等级：debug|info|warn|error")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "运行结束写出 Prometheus 文本格式指标")
	fl.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
}

// cliOverlay 只收集显式给出的旗标，使未给出的旗标不覆盖 JSON/ENV。
func cliOverlay(cmd *cobra.Command, f *rootFlags, args []string) cfgpkg.Config {
	var over cfgpkg.Config
	ch := cmd.Flags().Changed
	if len(args) > 0 {
		over.Inputs = args
	}
	if ch("output-dir") {
		over.OutputDir = f.outputDir
	}
	if ch("text-column") {
		over.TextColumn = f.textColumn
	}
	if ch("workers") {
		over.Workers = f.workers
	}
	if ch("queue-depth") {
		over.QueueDepth = f.queueDepth
	}
	if ch("window") {
		over.Window = f.window
	}
	if ch("file-concurrency") {
		over.FileConcurrency = f.fileConcurrency
	}
	if ch("on-error") {
		over.OnError = f.onError
	}
	if ch("strict-field") {
		v := f.strictField
		over.StrictField = &v
	}
	if ch("keep-accents") {
		v := f.keepAccents
		over.Normalize.KeepAccents = &v
	}
	if ch("transliterate") {
		v := f.transliterate
		over.Normalize.Transliterate = &v
	}
	if ch("retain") {
		v := f.retain
		over.Normalize.Retain = &v
	}
	if ch("log-level") {
		over.Logging.Level = f.logLevel
	}
	if ch("metrics-file") {
		over.MetricsFile = f.metricsFile
	}
	return over
}

// loadConfig: Defaults → JSON（--config / ENV）→ ENV 覆盖 → CLI 覆盖。
func loadConfig(cmd *cobra.Command, f *rootFlags, args []string) (cfgpkg.Config, error) {
	path := f.config
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadJSON(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	return cfgpkg.Merge(cfg, cliOverlay(cmd, f, args)), nil
}

func runNormalize(cmd *cobra.Command, f *rootFlags, args []string) error {
	start := time.Now()
	stderr := cmd.ErrOrStderr()
	corrID := uuid.NewString()
	// 先以默认等级占位，合并配置后按最终等级重建
	logger := diag.NewLogger(corrID, "info", diag.DefaultLogDir)
	defer func() { _ = logger.Close() }()

	fail := func(code int, format string, err error) error {
		fprintf(stderr, format, err)
		logger.Error("cli", string(diag.Classify(err)), "first error: "+err.Error(), &start)
		return exitCode(code)
	}

	cfg, err := loadConfig(cmd, f, args)
	if err != nil {
		return fail(exitConfig, "配置解析失败: %v\n", err)
	}
	if err := cfgpkg.ValidateInputs(cfg.Inputs); err != nil {
		return fail(exitConfig, "输入校验失败: %v\n", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(stderr, cfg)
		return fail(exitConfig, "配置校验失败: %v\n", err)
	}

	logDir := cfg.Logging.Dir
	if strings.TrimSpace(logDir) == "" {
		logDir = diag.DefaultLogDir
	}
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level, logDir)

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return fail(exitConfig, "装配失败: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	inputs := cfg.Inputs
	if exp, ok := comp.Reader.(contract.Expander); ok {
		inputs, err = exp.Expand(ctx, cfg.Inputs)
		if err != nil {
			return fail(exitFor(err), "输入展开失败: %v\n", err)
		}
	}
	if len(inputs) == 0 {
		return fail(exitConfig, "输入展开失败: %v\n", contract.Configf("no input files under %v", cfg.Inputs))
	}
	mapping, err := buildMapping(inputs, cfg.OutputDir)
	if err != nil {
		return fail(exitConfig, "输出映射失败: %v\n", err)
	}
	if cfg.OutputDir != "" {
		if err := preflightCheckOutputDir(cfg.OutputDir); err != nil {
			return fail(exitConfig, "输出目录不可写或无法创建: %v\n", err)
		}
	}

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"inputs_count":     fmt.Sprintf("%d", len(mapping)),
		"output_dir":       cfg.OutputDir,
		"text_column":      cfg.TextColumn,
		"workers":          fmt.Sprintf("%d", set.Workers),
		"file_concurrency": fmt.Sprintf("%d", set.FileConcurrency),
		"on_error":         set.OnError,
		"reader":           cfg.Components.Reader,
		"transformer":      cfg.Components.Transformer,
		"writer":           cfg.Components.Writer,
	})

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(set.Workers, len(mapping))

	t := logger.Start("cli", "run")
	results, err := pipelineRun(ctx, comp, set, mapping, logger)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if !errors.Is(r.Err, context.Canceled) {
				fprintf(stderr, "处理失败 %s: %v\n", r.Input, r.Err)
			}
		}
	}
	writeMetrics(stderr, cfg.MetricsFile)
	if err != nil {
		term.RunFinish(false, time.Since(start))
		if errors.Is(err, context.Canceled) {
			return fail(exitFailed, "已取消: %v\n", err)
		}
		return fail(exitFor(err), "运行失败: %v\n", err)
	}
	term.RunFinish(failed == 0, time.Since(start))
	if failed > 0 {
		diag.IncOp("cli", "finish", "error")
		return exitCode(exitFailed)
	}
	t.Finish("run", int64(len(results)))
	diag.IncOp("cli", "finish", "success")
	diag.ObserveDuration("cli", "finish", time.Since(start).Milliseconds())
	return nil
}

// buildMapping: "-" 无输出目录时写 STDOUT，否则按基名映射到输出目录。
func buildMapping(inputs []string, outDir string) (contract.PathMapping, error) {
	if len(inputs) == 1 && inputs[0] == "-" {
		if strings.TrimSpace(outDir) == "" {
			return contract.PathMapping{{Input: "-", Output: "-"}}, nil
		}
		return contract.PathMapping{{Input: "-", Output: filepath.Join(outDir, stdinName)}}, nil
	}
	return contract.MapToDir(inputs, outDir)
}

func exitFor(err error) int {
	if diag.Classify(err) == diag.CodeConfig {
		return exitConfig
	}
	return exitFailed
}

func writeMetrics(stderr io.Writer, path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := diag.WriteMetrics(path); err != nil {
		fprintf(stderr, "提示：指标写出失败（已跳过）：%v\n", err)
	}
}

func newTextCmd() *cobra.Command {
	var cfg normalize.Config
	cmd := &cobra.Command{
		Use:   "text [strings...]",
		Short: "Normalize strings given as arguments, or stdin lines when none",
		RunE: func(cmd *cobra.Command, args []string) error {
			n := normalize.New(cfg)
			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()
			if len(args) > 0 {
				for _, a := range args {
					fmt.Fprintln(out, n.Normalize(a))
				}
				return nil
			}
			// 与文件管道相同：行长不设上限，去掉 \n 与 \r\n
			br := bufio.NewReaderSize(cmd.InOrStdin(), 64*1024)
			for {
				line, err := br.ReadString('\n')
				if len(line) > 0 {
					if l, ok := strings.CutSuffix(line, "\n"); ok {
						line = strings.TrimSuffix(l, "\r")
					}
					fmt.Fprintln(out, n.Normalize(line))
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					fprintf(cmd.ErrOrStderr(), "读取输入失败: %v\n", err)
					return exitCode(exitFailed)
				}
			}
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&cfg.KeepAccents, "keep-accents", false, "保留重音符号")
	fl.BoolVar(&cfg.Transliterate, "transliterate", false, "先转写为 ASCII")
	fl.StringVar(&cfg.Retain, "retain", "", "保留的标点/符号字符集合")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write config.json and .env templates (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			stderr := cmd.ErrOrStderr()
			cfg := cfgpkg.DefaultTemplateConfig()
			if dir == "-" {
				if err := writeConfig(cmd.OutOrStdout(), "-", cfg); err != nil {
					fprintf(stderr, "生成默认配置失败: %v\n", err)
					return exitCode(exitConfig)
				}
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fprintf(stderr, "生成默认配置失败: %v\n", err)
				return exitCode(exitConfig)
			}
			if err := writeConfig(cmd.OutOrStdout(), filepath.Join(dir, "config.json"), cfg); err != nil {
				fprintf(stderr, "生成默认配置失败: %v\n", err)
				return exitCode(exitConfig)
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

// writeConfig 写出配置模板；path 为 "-" 时写 stdout。已存在的文件不覆盖。
func writeConfig(stdout io.Writer, path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = stdout.Write(b)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeDotEnv 生成 .env 模板；文件已存在时跳过。
func writeDotEnv(path string) error {
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# jsonlnorm .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{
		"INPUTS", "OUTPUT_DIR", "TEXT_COLUMN", "WORKERS", "QUEUE_DEPTH", "WINDOW",
		"FILE_CONCURRENCY", "ON_ERROR", "STRICT_FIELD", "MAX_ERROR_SAMPLES",
	} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 规范化规则\n")
	for _, k := range []string{"NORMALIZE_KEEP_ACCENTS", "NORMALIZE_TRANSLITERATE", "NORMALIZE_RETAIN"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 日志与指标\n")
	for _, k := range []string{"LOG_LEVEL", "LOG_DIR", "METRICS_FILE"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择与选项\n")
	for _, k := range []string{
		"COMPONENTS_READER", "COMPONENTS_TRANSFORMER", "COMPONENTS_WRITER",
		"OPTIONS_READER_JSON", "OPTIONS_WRITER_JSON",
	} {
		b.WriteString(p + k + "=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// preflightCheckOutputDir 在启动前检查输出目录可写性：
// 目录存在时尝试创建并删除临时文件；不存在时沿父链找到首个存在的目录并试写。
func preflightCheckOutputDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	if parent == dir {
		return fmt.Errorf("cannot determine parent directory of %s", dir)
	}
	return preflightCheckOutputDir(parent)
}
