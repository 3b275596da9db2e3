package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"jsonlnorm/internal/diag"
	"jsonlnorm/internal/pipeline"
	"jsonlnorm/pkg/contract"
	"jsonlnorm/pkg/normalize"
	"jsonlnorm/pkg/registry"
	tjsonl "jsonlnorm/plugins/transformer/jsonl"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator 使用 json 标签名报告字段，便于与配置文件对照。
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate 对配置做静态校验（标签规则 + 跨字段规则）；失败均包裹 ErrConfig。
// 输入路径单独由 ValidateInputs 校验。
func Validate(cfg Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return contract.Configf("%s: must satisfy %s=%s (got %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Param(), fe.Value())
			}
			return contract.Configf("%s: %s", fieldPath(fe.Namespace()), fe.Tag())
		}
		return contract.Configf("%v", err)
	}
	if strings.TrimSpace(cfg.TextColumn) == "" {
		return contract.Configf("text_column: cannot be blank")
	}
	if !diag.ValidLevel(effName(cfg.Logging.Level, "info")) {
		return contract.Configf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return contract.Configf("reader %q not registered (have %v)", name, registry.Names(registry.Reader))
	}
	if name := effName(cfg.Components.Transformer, d.Components.Transformer); registry.Transformer[name] == nil {
		return contract.Configf("transformer %q not registered (have %v)", name, registry.Names(registry.Transformer))
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return contract.Configf("writer %q not registered (have %v)", name, registry.Names(registry.Writer))
	}
	return nil
}

// fieldPath 去掉根类型名：Config.logging.level → logging.level
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ValidateInputs 校验输入根：非空、无空白项、"-" 只能单独出现。
func ValidateInputs(inputs []string) error {
	if len(inputs) == 0 {
		return contract.Configf("inputs empty")
	}
	dash := false
	for _, r := range inputs {
		switch strings.TrimSpace(r) {
		case "":
			return contract.Configf("input path cannot be empty")
		case "-":
			dash = true
		}
	}
	if dash && len(inputs) > 1 {
		return contract.Configf("'-' cannot be mixed with other roots")
	}
	return nil
}

// NormalizeConfig 将配置中的规则选择转换为规范化器配置。
func NormalizeConfig(cfg Config) normalize.Config {
	var nc normalize.Config
	if cfg.Normalize.KeepAccents != nil {
		nc.KeepAccents = *cfg.Normalize.KeepAccents
	}
	if cfg.Normalize.Transliterate != nil {
		nc.Transliterate = *cfg.Normalize.Transliterate
	}
	if cfg.Normalize.Retain != nil {
		nc.Retain = *cfg.Normalize.Retain
	}
	return nc
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	tn := effName(cfg.Components.Transformer, d.Components.Transformer)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("%w: options.reader: %v", contract.ErrConfig, err)
	}
	topts := tjsonl.Options{Normalize: NormalizeConfig(cfg)}
	if cfg.StrictField != nil {
		topts.Strict = *cfg.StrictField
	}
	raw, err := json.Marshal(topts)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	tr, err := registry.Transformer[tn](raw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("%w: transformer: %v", contract.ErrConfig, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("%w: options.writer: %v", contract.ErrConfig, err)
	}

	comp := pipeline.Components{Reader: r, Transformer: tr, Writer: w}
	set := pipeline.Settings{
		TextColumn:      cfg.TextColumn,
		Workers:         cfg.Workers,
		QueueDepth:      cfg.QueueDepth,
		FileConcurrency: cfg.FileConcurrency,
		Window:          cfg.Window,
		OnError:         effName(cfg.OnError, d.OnError),
		MaxErrorSamples: cfg.MaxErrorSamples,
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return got
}
