package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields propagated through the call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldSearchID identifies one search pipeline execution.
	FieldSearchID = "search_id"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldImageID is the image UUID being processed.
	FieldImageID = "image_id"

	// FieldSource is the ingestion source identifier.
	FieldSource = "source"
)

// Metric fields used for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldStatus is the operation status.
	FieldStatus = "status"
)
