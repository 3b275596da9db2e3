package jsonl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"jsonlnorm/pkg/contract"
	"jsonlnorm/pkg/normalize"
)

func TestTransform(t *testing.T) {
	tr := New(nil)
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"normalizes only the text field",
			`{"id":7,"text":"HÉLLO   World!","title":"HÉLLO World!"}`,
			`{"id":7,"text":"hello world","title":"HÉLLO World!"}`,
		},
		{
			"keeps member order",
			`{"z":1,"text":"A","a":2}`,
			`{"z":1,"text":"a","a":2}`,
		},
		{
			"compacts whitespace",
			`{ "text" : "B" , "nested" : { "k" : [ 1 , 2 ] } }`,
			`{"text":"b","nested":{"k":[1,2]}}`,
		},
		{
			"preserves number literals",
			`{"big":12345678901234567890,"f":1.50,"e":1e3,"text":"x"}`,
			`{"big":12345678901234567890,"f":1.50,"e":1e3,"text":"x"}`,
		},
		{
			"preserves escapes in other fields",
			`{"s":"a\"b\\cé","text":"Tab\there"}`,
			`{"s":"a\"b\\cé","text":"tab here"}`,
		},
		{
			"missing field passes through",
			`{"id":1,"body":"Keep ME"}`,
			`{"id":1,"body":"Keep ME"}`,
		},
		{
			"non string field passes through",
			`{"text":42,"other":"X"}`,
			`{"text":42,"other":"X"}`,
		},
		{
			"null field passes through",
			`{"text":null}`,
			`{"text":null}`,
		},
		{
			"duplicate keys all normalized",
			`{"text":"A!","text":"B?"}`,
			`{"text":"a","text":"b"}`,
		},
		{
			"escaped key matches",
			`{"te\u0078t":"ÀB"}`,
			`{"te\u0078t":"ab"}`,
		},
		{
			"trailing carriage return ignored",
			"{\"text\":\"Q\"}\r",
			`{"text":"q"}`,
		},
		{
			"empty object",
			`{}`,
			`{}`,
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Transform([]byte(tt.in), "text")
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.True(t, gjson.ValidBytes(got))
			assert.NotContains(t, string(got), "\n")
		})
	}
}

func TestTransformErrors(t *testing.T) {
	tr := New(nil)
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"truncated", `{"text":"a"`, contract.ErrMalformed},
		{"garbage", `not json`, contract.ErrMalformed},
		{"trailing data", `{"text":"a"} {}`, contract.ErrMalformed},
		{"empty", ``, contract.ErrMalformed},
		{"array", `[{"text":"a"}]`, contract.ErrNotAnObject},
		{"string", `"text"`, contract.ErrNotAnObject},
		{"number", `3`, contract.ErrNotAnObject},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Transform([]byte(tt.in), "text")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransformDeepNesting(t *testing.T) {
	tr := New(nil)

	deep := `{"text":"x","a":` + strings.Repeat("[", 2_000_000)
	_, err := tr.Transform([]byte(deep), "text")
	assert.ErrorIs(t, err, contract.ErrMalformed)

	closed := `{"text":"x","a":` + strings.Repeat("[", maxDepth+1) + strings.Repeat("]", maxDepth+1) + `}`
	_, err = tr.Transform([]byte(closed), "text")
	assert.ErrorIs(t, err, contract.ErrMalformed)

	nested := `{"text":"X!","a":` + strings.Repeat(`{"b":[`, 100) + strings.Repeat(`]}`, 100) + `}`
	got, err := tr.Transform([]byte(nested), "text")
	require.NoError(t, err)
	assert.Equal(t, `{"text":"x","a":`+nested[len(`{"text":"X!","a":`):], string(got))

	// 字符串内的括号不计入深度
	quoted := `{"text":"` + strings.Repeat("[{", maxDepth) + `\"["}`
	got, err = tr.Transform([]byte(quoted), "text")
	require.NoError(t, err)
	assert.Equal(t, `{"text":""}`, string(got))
}

func TestTransformStrict(t *testing.T) {
	tr := New(&Options{Strict: true})

	_, err := tr.Transform([]byte(`{"id":1}`), "text")
	assert.ErrorIs(t, err, contract.ErrFieldMissing)

	_, err = tr.Transform([]byte(`{"text":["a"]}`), "text")
	assert.ErrorIs(t, err, contract.ErrFieldNotString)

	got, err := tr.Transform([]byte(`{"text":"OK!"}`), "text")
	require.NoError(t, err)
	assert.Equal(t, `{"text":"ok"}`, string(got))
}

func TestTransformFieldIsolation(t *testing.T) {
	tr := New(nil)
	in := `{"a":"MiXeD","b":{"text":"Nested STAYS"},"content":"Ünïcödé!","arr":["X","Y"]}`
	got, err := tr.Transform([]byte(in), "content")
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "arr"} {
		assert.Equal(t, gjson.Get(in, k).Raw, gjson.GetBytes(got, k).Raw, k)
	}
	assert.Equal(t, "unicode", gjson.GetBytes(got, "content").String())
}

func TestTransformOptions(t *testing.T) {
	tr := New(&Options{Normalize: normalize.Config{KeepAccents: true}})
	got, err := tr.Transform([]byte(`{"text":"CAFÉ"}`), "text")
	require.NoError(t, err)
	assert.Equal(t, "café", gjson.GetBytes(got, "text").String())
	assert.True(t, tr.Normalizer().Config().KeepAccents)
}

func BenchmarkTransform(b *testing.B) {
	tr := New(nil)
	line := []byte(`{"id":123,"lang":"en","text":"The Quick Brown Fox — jumps over the lazy dög!","meta":{"src":"web","tags":["a","b"]}}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Transform(line, "text"); err != nil {
			b.Fatal(err)
		}
	}
}
