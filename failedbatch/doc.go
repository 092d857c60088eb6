// Package failedbatch is the durable retry queue for batches the sink rejected.
//
// A failed batch is one JSON file, <id>.json, in a configured directory:
//
//	{"data": [ ...records... ], "log_type": "cloudtrail", "failed_at": "...", "error": "..."}
//
// Only "data" is required when reading. A file's presence means the batch has
// not been delivered. Replayer resubmits pending batches through a Router and,
// on success, renames the file into the archived/ subdirectory. Rename is the
// only hand-off between pending and archived, so a batch is never in both.
//
// Ids are a fixed-width UTC timestamp followed by eight hex characters, so
// lexical order is creation order and replay order is deterministic:
//
//	store, err := failedbatch.NewStore("/var/lib/s3sentinel/failed")
//	id, err := store.Persist(ctx, "cloudtrail", records, deliveryErr)
//
//	replayer := failedbatch.NewReplayer(store)
//	res, err := replayer.Replay(ctx, router, "")
//	// res.Processed == res.Failed + res.Archived
package failedbatch
