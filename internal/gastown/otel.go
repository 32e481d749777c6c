package gastown

import "strings"

// OtelEnv returns the OTLP export variables that point gt, bd and agent
// sessions at VictoriaMetrics (vmURL) and VictoriaLogs (vlURL).
func OtelEnv(vmURL, vlURL string) map[string]string {
	vm := strings.TrimRight(vmURL, "/")
	vl := strings.TrimRight(vlURL, "/")
	metrics := vm + "/opentelemetry/api/v1/push"
	logs := vl + "/insert/opentelemetry/v1/logs"

	return map[string]string{
		"GT_OTEL_METRICS_URL":                 metrics,
		"GT_OTEL_LOGS_URL":                    logs,
		"BD_OTEL_METRICS_URL":                 metrics,
		"BD_OTEL_LOGS_URL":                    logs,
		"CLAUDE_CODE_ENABLE_TELEMETRY":        "1",
		"OTEL_METRICS_EXPORTER":               "otlp",
		"OTEL_METRIC_EXPORT_INTERVAL":         "1000",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT": metrics,
		"OTEL_EXPORTER_OTLP_METRICS_PROTOCOL": "http/protobuf",
		"OTEL_LOGS_EXPORTER":                  "otlp",
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT":    logs,
		"OTEL_EXPORTER_OTLP_LOGS_PROTOCOL":    "http/protobuf",
		"OTEL_LOG_TOOL_DETAILS":               "true",
		"OTEL_LOG_TOOL_CONTENT":               "true",
		"OTEL_LOG_USER_PROMPTS":               "true",
	}
}
