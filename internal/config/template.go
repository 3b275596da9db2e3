package config

import "encoding/json"

// DefaultTemplateConfig 返回一个可直接运行的默认配置模板：
// 输入为 STDIN（"-"）；所有键均出现，值为安全中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	f := false
	retain := ""
	cfg := Config{
		Inputs:          []string{"-"},
		OutputDir:       "out",
		TextColumn:      d.TextColumn,
		Workers:         4,
		QueueDepth:      0,
		Window:          0,
		FileConcurrency: d.FileConcurrency,
		OnError:         d.OnError,
		StrictField:     &f,
		MaxErrorSamples: 10,
		Normalize: Normalize{
			KeepAccents:   &f,
			Transliterate: &f,
			Retain:        &retain,
		},
		Logging:    Logging{Level: "info", Dir: "logs"},
		Components: d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "extensions": [".jsonl", ".jsonl.gz", ".jsonl.zst", ".jsonl.zstd"],
  "decompress": true
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "compress": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
