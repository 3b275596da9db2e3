package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
// 数值 0 / 空串表示“未设置”，由 Defaults 或下游默认补齐；
// 布尔使用指针，使 false 可以显式覆盖。
type Config struct {
	Inputs    []string `json:"inputs"`
	OutputDir string   `json:"output_dir"`

	TextColumn      string `json:"text_column" validate:"required"`
	Workers         int    `json:"workers" validate:"min=1,max=4096"`
	QueueDepth      int    `json:"queue_depth" validate:"min=0"`
	Window          int    `json:"window" validate:"min=0"`
	FileConcurrency int    `json:"file_concurrency" validate:"min=1,max=1024"`
	OnError         string `json:"on_error" validate:"omitempty,oneof=drop passthrough"`
	StrictField     *bool  `json:"strict_field"`
	// MaxErrorSamples: 每文件保留的行级错误样本；0 取默认 10。
	MaxErrorSamples int `json:"max_error_samples" validate:"min=0"`

	Normalize Normalize `json:"normalize"`
	Logging   Logging   `json:"logging"`
	// MetricsFile: 非空时在运行结束写出 Prometheus 文本格式指标。
	MetricsFile string `json:"metrics_file"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Normalize: 文本规范化规则选择。
type Normalize struct {
	KeepAccents   *bool   `json:"keep_accents"`
	Transliterate *bool   `json:"transliterate"`
	Retain        *string `json:"retain"`
}

// Logging: 日志等级与目录；文件名与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader      string `json:"reader"`
	Transformer string `json:"transformer"`
	Writer      string `json:"writer"`
}

// Options: Reader/Writer 的原样 JSON Options。
// Transformer 的选项由 text 规范化相关的类型化字段派生。
type Options struct {
	Reader json.RawMessage `json:"reader"`
	Writer json.RawMessage `json:"writer"`
}
