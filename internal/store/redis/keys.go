package redis

const (
	// KeyPrefix namespaces every key written by the mirror.
	KeyPrefix = "hubcache:"
	// KeySnapshot holds the JSON array of raw payloads of the last committed refresh.
	KeySnapshot = KeyPrefix + "snapshot"
	// KeySnapshotMeta is a hash describing the snapshot (count, refreshed_at).
	KeySnapshotMeta = KeyPrefix + "snapshot:meta"
)

// SnapshotKey returns the key of the mirrored snapshot.
func SnapshotKey() string {
	return KeySnapshot
}

// SnapshotMetaKey returns the key of the snapshot metadata hash.
func SnapshotMetaKey() string {
	return KeySnapshotMeta
}
