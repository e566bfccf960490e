package common

// Keys of the local metadata table.
const (
	MetaDeviceID       = "device_id"
	MetaDeviceLastSeen = "device_last_seen"
	MetaLastSyncAt     = "last_sync_at"
	MetaSessionToken   = "session_token"
	MetaFailedSyncs    = "failed_syncs"
	MetaConflicts      = "sync_conflicts"
)
