package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"jsonlnorm/pkg/contract"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "JSONLNORM_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		TextColumn:      "text",
		Workers:         1,
		FileConcurrency: 1,
		OnError:         "drop",
		Logging:         Logging{Level: "info"},
		Components: Components{
			Reader:      "fs",
			Transformer: "jsonl",
			Writer:      "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: decode config: %v", contract.ErrConfig, err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if s := strings.TrimSpace(over.OutputDir); s != "" {
		out.OutputDir = s
	}
	// text_column 保留原样（字段名可含空白），仅全空白视为未设置
	if strings.TrimSpace(over.TextColumn) != "" {
		out.TextColumn = over.TextColumn
	}
	if over.Workers != 0 {
		out.Workers = over.Workers
	}
	if over.QueueDepth != 0 {
		out.QueueDepth = over.QueueDepth
	}
	if over.Window != 0 {
		out.Window = over.Window
	}
	if over.FileConcurrency != 0 {
		out.FileConcurrency = over.FileConcurrency
	}
	if s := strings.TrimSpace(over.OnError); s != "" {
		out.OnError = s
	}
	if over.StrictField != nil {
		out.StrictField = cloneBool(over.StrictField)
	}
	if over.MaxErrorSamples != 0 {
		out.MaxErrorSamples = over.MaxErrorSamples
	}

	// 规范化规则（逐键覆盖）
	if over.Normalize.KeepAccents != nil {
		out.Normalize.KeepAccents = cloneBool(over.Normalize.KeepAccents)
	}
	if over.Normalize.Transliterate != nil {
		out.Normalize.Transliterate = cloneBool(over.Normalize.Transliterate)
	}
	if over.Normalize.Retain != nil {
		v := *over.Normalize.Retain
		out.Normalize.Retain = &v
	}

	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if s := strings.TrimSpace(over.MetricsFile); s != "" {
		out.MetricsFile = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Transformer != "" {
		out.Components.Transformer = over.Components.Transformer
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 JSONLNORM_；集合之外的键忽略；值非法时返回 ErrConfig。
// 支持：INPUTS, OUTPUT_DIR, TEXT_COLUMN, WORKERS, QUEUE_DEPTH, WINDOW,
// FILE_CONCURRENCY, ON_ERROR, STRICT_FIELD, MAX_ERROR_SAMPLES,
// NORMALIZE_{KEEP_ACCENTS,TRANSLITERATE,RETAIN}, LOG_LEVEL, LOG_DIR,
// METRICS_FILE, COMPONENTS_{READER,TRANSFORMER,WRITER},
// OPTIONS_{READER,WRITER}_JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := kv[eq+1:]
		nk := strings.TrimPrefix(key, EnvPrefix)

		intVal := func(dst *int) error {
			v, err := atoi(val)
			if err != nil {
				return contract.Configf("%s: invalid integer %q", key, val)
			}
			*dst = v
			return nil
		}
		boolVal := func(dst **bool) error {
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return contract.Configf("%s: invalid boolean %q", key, val)
			}
			*dst = &b
			return nil
		}

		var err error
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "OUTPUT_DIR":
			over.OutputDir = strings.TrimSpace(val)
		case "TEXT_COLUMN":
			over.TextColumn = val
		case "WORKERS":
			err = intVal(&over.Workers)
		case "QUEUE_DEPTH":
			err = intVal(&over.QueueDepth)
		case "WINDOW":
			err = intVal(&over.Window)
		case "FILE_CONCURRENCY":
			err = intVal(&over.FileConcurrency)
		case "ON_ERROR":
			over.OnError = strings.TrimSpace(val)
		case "STRICT_FIELD":
			err = boolVal(&over.StrictField)
		case "MAX_ERROR_SAMPLES":
			err = intVal(&over.MaxErrorSamples)
		case "NORMALIZE_KEEP_ACCENTS":
			err = boolVal(&over.Normalize.KeepAccents)
		case "NORMALIZE_TRANSLITERATE":
			err = boolVal(&over.Normalize.Transliterate)
		case "NORMALIZE_RETAIN":
			v := val
			over.Normalize.Retain = &v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "METRICS_FILE":
			over.MetricsFile = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_TRANSFORMER":
			over.Components.Transformer = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			// 空值视为未设置，避免清空 config.json 中的选项
			if strings.TrimSpace(val) != "" {
				over.Options.Reader = json.RawMessage(val)
			}
		case "OPTIONS_WRITER_JSON":
			if strings.TrimSpace(val) != "" {
				over.Options.Writer = json.RawMessage(val)
			}
		}
		if err != nil {
			return Config{}, err
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
