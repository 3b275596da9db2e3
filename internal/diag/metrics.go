package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 进程内指标，注册在私有 registry 上，可经 WriteMetrics 落成 textfile：
// - jsonlnorm_op_total{comp,stage,result}
// - jsonlnorm_error_total{comp,code}
// - jsonlnorm_op_duration_ms{comp,stage}
// - jsonlnorm_lines_total{result}  result=normalized|skipped|failed
const namespace = "jsonlnorm"

var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "op_total",
		Help:      "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "error_total",
		Help:      "Classified errors by component.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})

	linesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_total",
		Help:      "Input lines by outcome.",
	}, []string{"result"})
)

func init() {
	registry.MustRegister(opTotal, errorTotal, opDuration, linesTotal)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddLines 按行结果累加。
func AddLines(result string, n int64) {
	if n <= 0 {
		return
	}
	linesTotal.WithLabelValues(result).Add(float64(n))
}

// Registry 暴露私有 registry，供测试或外部导出使用。
func Registry() *prometheus.Registry { return registry }

// WriteMetrics 以 Prometheus 文本格式写出全部指标（临时文件 + rename）。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}
