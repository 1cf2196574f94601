package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing Fields (Context level)
// Propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the migration job ID
	FieldJobID = "job_id"

	// FieldAssetID is the uploaded asset ID
	FieldAssetID = "asset_id"

	// FieldOwnerID is the uploading operator
	FieldOwnerID = "owner_id"

	// FieldSchema is the dataset schema name
	FieldSchema = "schema"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Metric Fields (Entry level)
// Used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation or job status
	FieldStatus = "status"

	// FieldRow is a dataset row number
	FieldRow = "row"
)
