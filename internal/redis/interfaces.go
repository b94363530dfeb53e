package redis

import (
	"haulpay/internal/location"
	"haulpay/internal/service"
	"haulpay/internal/tracker"
)

// Ensure the stores satisfy the interfaces their consumers declare.
var (
	_ service.TripLocker    = (*LockStore)(nil)
	_ service.SettingsCache = (*CacheStore)(nil)
	_ location.FixStore     = (*LocationStore)(nil)
	_ tracker.SnapshotStore = (*SnapshotStore)(nil)
)
