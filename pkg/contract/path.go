package contract

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID（用于日志与终端展示）。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// PathPair: 单个输入与其输出路径。
type PathPair struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// PathMapping: 有序的输入→输出映射；顺序即结果顺序。
type PathMapping []PathPair

// Validate 校验映射为一一对应：
// - 路径非空；
// - 输入不重复；
// - 输出不重复（两个输入落到同一输出视为配置错误，而非静默覆盖）；
// - 输出不得与任一输入相同。
func (m PathMapping) Validate() error {
	if len(m) == 0 {
		return Configf("no input files")
	}
	ins := make(map[string]int, len(m))
	outs := make(map[string]int, len(m))
	for i, p := range m {
		if strings.TrimSpace(p.Input) == "" || strings.TrimSpace(p.Output) == "" {
			return Configf("mapping entry %d has an empty path", i)
		}
		in := filepath.Clean(p.Input)
		out := filepath.Clean(p.Output)
		if j, dup := ins[in]; dup {
			return Configf("input %q listed twice (entries %d and %d)", p.Input, j, i)
		}
		if j, dup := outs[out]; dup {
			return Configf("inputs %q and %q map to the same output %q", m[j].Input, p.Input, p.Output)
		}
		ins[in] = i
		outs[out] = i
	}
	for out, i := range outs {
		if j, clash := ins[out]; clash {
			return Configf("output %q of %q overwrites input %q", m[i].Output, m[i].Input, m[j].Input)
		}
	}
	return nil
}

// Inputs 返回按映射顺序的输入路径。
func (m PathMapping) Inputs() []string {
	out := make([]string, len(m))
	for i, p := range m {
		out[i] = p.Input
	}
	return out
}

// MapToDir 将每个输入按基名映射到 dir 下，并校验一一对应。
func MapToDir(inputs []string, dir string) (PathMapping, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, Configf("output directory not set")
	}
	m := make(PathMapping, 0, len(inputs))
	for _, in := range inputs {
		base := filepath.Base(filepath.Clean(in))
		if base == "." || base == ".." || base == string(filepath.Separator) {
			return nil, Configf("input %q has no file name", in)
		}
		m = append(m, PathPair{Input: in, Output: filepath.Join(dir, base)})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
