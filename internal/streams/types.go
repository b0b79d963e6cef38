package streams

// Stream names
const (
	StreamDeliveryOutcomes = "delivery:outcomes"
)

// Consumer group names
const (
	GroupHealthRecorders = "health-recorders"
)

// SchemaVersionV1 tags every published entry.
const SchemaVersionV1 = "v1"

// streamMaxLen caps the outcome stream, trimmed approximately.
const streamMaxLen = 10000

// Entry field names
const (
	fieldEventID       = "event_id"
	fieldPayload       = "payload"
	fieldPublishedAt   = "published_at"
	fieldSchemaVersion = "schema_version"
)
