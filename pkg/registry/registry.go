package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"jsonlnorm/pkg/contract"
	rfs "jsonlnorm/plugins/reader/filesystem"
	tjsonl "jsonlnorm/plugins/transformer/jsonl"
	wfs "jsonlnorm/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewTransformer 工厂签名：接收原样 JSON Options。
type NewTransformer func(raw json.RawMessage) (contract.Transformer, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader，按扩展名透明解压
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Transformer 工厂注册表。
var Transformer = map[string]NewTransformer{
	// jsonl: 单字段文本规范化，其余成员原样保留
	"jsonl": func(raw json.RawMessage) (contract.Transformer, error) {
		var opts tjsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tjsonl.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置，按扩展名压缩）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names 返回某注册表的已注册名（排序），用于错误提示。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
