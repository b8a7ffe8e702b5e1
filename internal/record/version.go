package record

// Version constants for persisted records and the sync engine.
const (
	// SchemaVersion is the record encoding version.
	SchemaVersion = "1"

	// EngineVersion is the catalog engine version.
	EngineVersion = "0.1.0"
)
