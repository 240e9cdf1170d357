package output

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dupfinder/actions"
	"dupfinder/logger"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const (
	RecordScan    = "scan"
	RecordGroup   = "group"
	RecordOutcome = "outcome"
)

// OtelConfig selects the OTLP/HTTP log endpoint. An empty endpoint (with
// FromEnv unset or no OTEL_EXPORTER_* variables) disables export.
type OtelConfig struct {
	Endpoint    string
	FromEnv     bool
	Headers     map[string]string
	Timeout     time.Duration
	ServiceName string
	// ExportPaths keeps file paths, directories and the host name in
	// exported records.
	ExportPaths bool
}

// OtelExporter sends scan, group and outcome records as OTLP logs. A nil
// *OtelExporter is valid and drops everything.
type OtelExporter struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
	log      logrus.FieldLogger
}

type otelPolicy struct {
	includePaths bool
}

func NewOtelExporter(cfg OtelConfig, log logrus.FieldLogger) (*OtelExporter, error) {
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = "dupfinder"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(service),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &OtelExporter{
		provider: provider,
		logger:   provider.Logger("dupfinder"),
		timeout:  cfg.Timeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.ExportPaths},
		log:      logger.OrDiscard(log),
	}, nil
}

func resolveOtelEndpoint(cfg OtelConfig) string {
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.FromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *OtelExporter) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

// EmitReport sends one scan record followed by one record per group.
func (o *OtelExporter) EmitReport(r Report) {
	if o == nil {
		return
	}
	summary := r
	summary.Groups = nil
	o.Emit(RecordScan, summary)
	for _, g := range r.Groups {
		o.Emit(RecordGroup, g)
	}
}

type outcomeRecord struct {
	Path            string `json:"path,omitempty"`
	Name            string `json:"name,omitempty"`
	Size            int64  `json:"size"`
	Action          string `json:"action"`
	TargetPath      string `json:"target_path,omitempty"`
	Success         bool   `json:"success"`
	DryRun          bool   `json:"dry_run"`
	AlreadyExecuted bool   `json:"already_executed"`
	Fallback        bool   `json:"fallback"`
	ElapsedMillis   int64  `json:"elapsed_ms"`
	Error           string `json:"error,omitempty"`
}

func (o *OtelExporter) EmitOutcomes(outcomes []actions.Outcome) {
	if o == nil {
		return
	}
	for _, oc := range outcomes {
		rec := outcomeRecord{
			Action:          oc.Action.String(),
			Success:         oc.Success,
			DryRun:          oc.DryRun,
			AlreadyExecuted: oc.AlreadyExecuted,
			Fallback:        oc.Fallback,
			ElapsedMillis:   oc.Elapsed.Milliseconds(),
			Error:           oc.Error,
		}
		if oc.File != nil {
			rec.Path = oc.File.Path()
			rec.Name = oc.File.Name()
			rec.Size = oc.File.Size()
			rec.TargetPath = oc.File.TargetPath()
		}
		o.Emit(RecordOutcome, rec)
	}
}

func (o *OtelExporter) Emit(recordType string, payload interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	safePayload := sanitizePayload(recordType, payload, o.policy)

	now := time.Now()
	var record otelLog.Record
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("dupfinder.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)
	if attrs := semanticAttributes(recordType, safePayload, o.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}

	value := toLogValue(safePayload)
	if value.Kind() == otelLog.KindEmpty {
		if data, err := json.Marshal(safePayload); err == nil {
			record.SetBody(otelLog.StringValue(string(data)))
		}
	} else {
		record.SetBody(value)
	}

	o.logger.Emit(context.Background(), record)
}

func (o *OtelExporter) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		o.log.Debugf("OTEL shutdown failed: %v", err)
	}
}

var pathFields = []string{"path", "directory", "target_path"}

// sanitizePayload returns a map copy of payload with path-bearing fields
// removed unless the policy allows them. The input is never modified.
func sanitizePayload(recordType string, payload interface{}, policy otelPolicy) interface{} {
	data := payloadToMap(payload)
	if data == nil {
		return payload
	}
	if policy.includePaths {
		return data
	}

	sanitized := cloneMap(data)
	switch recordType {
	case RecordScan:
		delete(sanitized, "directory")
		delete(sanitized, "hostname")
	case RecordGroup:
		if files, ok := sanitized["files"].([]interface{}); ok {
			stripped := make([]interface{}, 0, len(files))
			for _, f := range files {
				fm, ok := f.(map[string]interface{})
				if !ok {
					continue
				}
				fm = cloneMap(fm)
				for _, key := range pathFields {
					delete(fm, key)
				}
				stripped = append(stripped, fm)
			}
			sanitized["files"] = stripped
		}
	case RecordOutcome:
		for _, key := range pathFields {
			delete(sanitized, key)
		}
	}
	return sanitized
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// toLogValue converts JSON-decoded payload values. Whole numbers become
// int64 values so sizes and counts keep their type in the backend.
func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return otelLog.Int64Value(int64(v))
		}
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

// toLogKeyValues converts a map in key order.
func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range keys {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func semanticAttributes(recordType string, payload interface{}, policy otelPolicy) []otelLog.KeyValue {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return nil
	}

	switch recordType {
	case RecordScan:
		return scanSemanticAttributes(data, policy)
	case RecordGroup:
		return groupSemanticAttributes(data)
	case RecordOutcome:
		return outcomeSemanticAttributes(data, policy)
	default:
		return nil
	}
}

func scanSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	if policy.includePaths {
		kvs = appendStringAttr(kvs, string(semconv.HostNameKey), getStringField(data, "hostname"))
		kvs = appendStringAttr(kvs, "dupfinder.scan.directory", getStringField(data, "directory"))
	}
	kvs = appendStringAttr(kvs, "dupfinder.scan.algorithm", getStringField(data, "algorithm"))
	for _, key := range []string{"scan_id", "files_scanned", "files_hashed", "hash_failures", "duplicate_files", "groups_found", "bytes_wasted", "bytes_to_free", "duration_ms"} {
		v, ok := getInt64Field(data, key)
		kvs = appendInt64Attr(kvs, "dupfinder.scan."+key, v, ok)
	}
	return kvs
}

func groupSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "dupfinder.group.fingerprint", getStringField(data, "fingerprint"))
	if size, ok := getInt64Field(data, "file_size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}
	count, ok := getInt64Field(data, "file_count")
	kvs = appendInt64Attr(kvs, "dupfinder.group.file_count", count, ok)
	wasted, ok := getInt64Field(data, "bytes_wasted")
	kvs = appendInt64Attr(kvs, "dupfinder.group.bytes_wasted", wasted, ok)
	return kvs
}

func outcomeSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	path := getStringField(data, "path")
	name := getStringField(data, "name")
	if name == "" && path != "" {
		name = filepath.Base(path)
	}
	if policy.includePaths && path != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
	}
	if name != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), name))
		if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	if size, ok := getInt64Field(data, "size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}
	kvs = appendStringAttr(kvs, "dupfinder.action.name", getStringField(data, "action"))
	if ok, present := getBoolField(data, "success"); present {
		kvs = append(kvs, otelLog.Bool("dupfinder.action.success", ok))
	}
	if dry, present := getBoolField(data, "dry_run"); present {
		kvs = append(kvs, otelLog.Bool("dupfinder.action.dry_run", dry))
	}
	if fb, present := getBoolField(data, "fallback"); present && fb {
		kvs = append(kvs, otelLog.Bool("dupfinder.action.fallback", true))
	}
	kvs = appendStringAttr(kvs, "dupfinder.action.error", getStringField(data, "error"))
	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		return v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func getBoolField(values map[string]interface{}, key string) (bool, bool) {
	b, ok := values[key].(bool)
	return b, ok
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}

func appendInt64Attr(kvs []otelLog.KeyValue, key string, value int64, ok bool) []otelLog.KeyValue {
	if !ok {
		return kvs
	}
	return append(kvs, otelLog.Int64(key, value))
}
