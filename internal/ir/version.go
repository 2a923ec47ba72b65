package ir

// Version constants for snapshot format and engine.
const (
	// SnapshotVersion is the snapshot schema version. Replicas only exchange
	// snapshots with an equal version.
	SnapshotVersion = "1"

	// EngineVersion is the island engine version.
	EngineVersion = "0.1.0"
)
