package jsonl

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"jsonlnorm/pkg/contract"
	"jsonlnorm/pkg/normalize"
)

// maxDepth 为容器嵌套深度上限；gjson 校验按层递归，过深的输入会耗尽 goroutine 栈。
const maxDepth = 10000

// tooDeep 扫描字符串之外的 [ { ] }，深度超过 maxDepth 时返回 true。
func tooDeep(b []byte) bool {
	depth := 0
	inStr, esc := false, false
	for _, c := range b {
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '[', '{':
			depth++
			if depth > maxDepth {
				return true
			}
		case ']', '}':
			depth--
		}
	}
	return false
}

// Options 为 JSONL 记录变换器的可选配置。
type Options struct {
	// Strict: 文本字段缺失或非字符串时返回行级错误；默认 false（原样透传）。
	Strict bool `json:"strict"`
	// Normalize: 规范化规则选择；零值为默认规则。
	Normalize normalize.Config `json:"normalize"`
}

// Transformer 仅改写指定文本字段，其余成员按原始字节与原始顺序保留。
type Transformer struct {
	strict bool
	norm   *normalize.Normalizer
}

var _ contract.Transformer = (*Transformer)(nil)

// New 创建变换器。
func New(opts *Options) *Transformer {
	var o Options
	if opts != nil {
		o = *opts
	}
	return &Transformer{strict: o.Strict, norm: normalize.New(o.Normalize)}
}

// Normalizer 返回变换器使用的规范化器（只读）。
func (t *Transformer) Normalizer() *normalize.Normalizer { return t.norm }

// Transform 解析一行 JSON，规范化 field 对应的字符串值，输出紧凑 JSON（不含换行）。
// 行尾 \r 与首尾空白忽略。同名键重复出现时，每个出现都会被改写。
func (t *Transformer) Transform(line []byte, field string) ([]byte, error) {
	line = bytes.TrimSpace(line)
	if tooDeep(line) || !gjson.ValidBytes(line) {
		return nil, contract.ErrMalformed
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return nil, contract.ErrNotAnObject
	}

	out := make([]byte, 0, len(line)+8)
	out = append(out, '{')
	n := 0
	found := false
	var ferr error
	root.ForEach(func(key, value gjson.Result) bool {
		if n > 0 {
			out = append(out, ',')
		}
		n++
		out = append(out, key.Raw...)
		out = append(out, ':')
		if key.Str == field {
			found = true
			if value.Type == gjson.String {
				out = gjson.AppendJSONString(out, t.norm.Normalize(value.Str))
				return true
			}
			if t.strict {
				ferr = contract.ErrFieldNotString
				return false
			}
		}
		out = append(out, value.Raw...)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	if !found && t.strict {
		return nil, contract.ErrFieldMissing
	}
	out = append(out, '}')
	// 去掉嵌套值内部的无意义空白
	return pretty.Ugly(out), nil
}
