package store

// Message is one reflected message.
type Message struct {
	SessionID string
	Seq       uint64
	Time      int64
	Payload   string
	// Digest is ir.MessageDigest of (Time, Seq, Payload). Filled in by
	// WriteMessage when empty.
	Digest string
}

// Snapshot is a checkpoint reported by a client.
type Snapshot struct {
	SessionID string
	Seq       uint64
	Time      int64
	Hash      string
	Body      []byte
}

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID            string
	CreatedAt     int64
	EngineVersion string
	Messages      int
	LastSeq       uint64
	LastTime      int64
	Snapshots     int
}
