package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldDatasetID is the dataset being uploaded or ingested
	FieldDatasetID = "dataset_id"

	// FieldUploadID is the chunked upload session
	FieldUploadID = "upload_id"

	// FieldJobID is the ingest job generation
	FieldJobID = "job_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldRows       = "rows"
	FieldStage      = "stage"
)
