package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 项目表锁等待时间（秒）
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "project_table_lock_wait_seconds",
			Help:    "Time spent waiting for the per-project table lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"backend"},
	)

	// 项目表创建计数
	ProvisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "project_tables_provisioned_total",
			Help: "Total number of ensure-project-tables calls by outcome",
		},
		[]string{"outcome"}, // outcome: created, existing, failed
	)

	// 种子复制行数
	SeedRowCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "project_seed_rows_total",
			Help: "Total number of rows written while seeding project tables",
		},
		[]string{"kind", "action"}, // kind: tasks, stages; action: inserted, updated
	)

	// 重复组计数
	DuplicateGroupCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_groups_total",
			Help: "Total number of duplicate groups by outcome",
		},
		[]string{"outcome"}, // outcome: found, resolved, failed, skipped
	)

	// 项目拆除计数
	TeardownCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "project_teardown_total",
			Help: "Total number of project teardowns by status",
		},
		[]string{"status"}, // status: success, failed
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数，statement 取 SQL 的首个关键字以控制基数
func IncrementSlowQuery(sql string, _ time.Duration) {
	DBSlowQueryCount.WithLabelValues(statementLabel(sql)).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordLockWait 记录获取项目表锁的等待时间
func RecordLockWait(backend string, duration time.Duration) {
	LockWaitDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// IncrementProvision 增加项目表创建计数
func IncrementProvision(outcome string) {
	ProvisionCount.WithLabelValues(outcome).Inc()
}

// AddSeedRows 累加种子复制行数
func AddSeedRows(kind, action string, n int) {
	if n <= 0 {
		return
	}
	SeedRowCount.WithLabelValues(kind, action).Add(float64(n))
}

// AddDuplicateGroups 累加重复组计数
func AddDuplicateGroups(outcome string, n int) {
	if n <= 0 {
		return
	}
	DuplicateGroupCount.WithLabelValues(outcome).Add(float64(n))
}

// IncrementTeardown 增加项目拆除计数
func IncrementTeardown(status string) {
	TeardownCount.WithLabelValues(status).Inc()
}

func statementLabel(sql string) string {
	start := 0
	for start < len(sql) && isSpace(sql[start]) {
		start++
	}
	end := start
	for end < len(sql) && !isSpace(sql[end]) && sql[end] != '(' {
		end++
	}
	if end == start {
		return "unknown"
	}
	word := []byte(sql[start:end])
	for i, c := range word {
		if c >= 'a' && c <= 'z' {
			word[i] = c - 'a' + 'A'
		}
	}
	return string(word)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
