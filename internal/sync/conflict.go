package sync

import "github.com/harjula/fitsync-go/internal/schema"

// Decision is the outcome of resolving one downloaded row against its
// local counterpart.
type Decision int

const (
	// KeepLocal leaves the local row untouched, synced flag included.
	// A pending local edit uploads on the next pass and wins remotely.
	KeepLocal Decision = iota

	// TakeRemote overwrites the local payload with the remote one.
	TakeRemote

	// InsertNew means there is no local row; the remote row is created
	// locally as already-synced.
	InsertNew
)

// String returns the decision name used in logs.
func (d Decision) String() string {
	switch d {
	case KeepLocal:
		return "keep_local"
	case TakeRemote:
		return "take_remote"
	case InsertNew:
		return "insert_new"
	default:
		return "unknown"
	}
}

// Resolve applies last-write-wins between a local record and a freshly
// decoded remote record with the same id. It is pure: no I/O, no clock.
//
// The remote wins only when its updated_at is strictly newer. A tie
// keeps the local row, so a pending local edit with the same timestamp
// still reaches the remote on the next upload pass. There is no
// device-id tiebreaker; wall-clock collisions at millisecond precision
// resolve to whichever device uploads last.
//
// Pass a zero-value local record when the id does not exist locally;
// Resolve then returns the remote row (marked synced) with InsertNew.
func Resolve(local, remote schema.Record) (schema.Record, Decision) {
	if local.ID == "" {
		merged := remote.Clone()
		merged.Synced = true
		return merged, InsertNew
	}

	if remote.UpdatedAt > local.UpdatedAt {
		// id, user_id, and created_at are immutable; the merged row
		// keeps the local envelope identity and takes the remote
		// payload and updated_at. Downloaded state is synced by
		// definition: it is already remote.
		merged := remote.Clone()
		merged.ID = local.ID
		merged.UserID = local.UserID
		merged.CreatedAt = local.CreatedAt
		merged.Synced = true
		return merged, TakeRemote
	}

	return local, KeepLocal
}
