// Package storage keeps a durable history of sent notifications.
//
// It is observability data, deliberately separate from the announcement
// dedup record in internal/announce: losing history never causes a
// re-announcement.
package storage
