package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/vmihailenco/msgpack/v5"

	"niemgraph/internal/blob"
)

// journalEntry is one append-only record of a committed ingest. The journal
// is for postmortem replay and debugging; nothing on the hot path reads it.
type journalEntry struct {
	ID         string   `msgpack:"id"`
	BundleID   string   `msgpack:"bundle_id"`
	UploadID   string   `msgpack:"upload_id"`
	Filename   string   `msgpack:"filename"`
	FileHash   string   `msgpack:"file_hash"`
	Nodes      int      `msgpack:"nodes"`
	Edges      int      `msgpack:"edges"`
	Warnings   []string `msgpack:"warnings,omitempty"`
	DurationMS int64    `msgpack:"duration_ms"`
}

func journalKey(bundleID, uploadID string) string {
	return path.Join("journal", bundleID, uploadID+".mpk")
}

// appendJournal appends one msgpack-framed entry to the upload's journal
// blob. The read-modify-write is serialized per orchestrator.
func (o *Orchestrator) appendJournal(ctx context.Context, e journalEntry) error {
	o.journalMu.Lock()
	defer o.journalMu.Unlock()

	key := journalKey(e.BundleID, e.UploadID)
	existing, err := o.blobs.Get(ctx, key)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return err
	}
	rec, err := msgpack.Marshal(e)
	if err != nil {
		return err
	}
	return o.blobs.Put(ctx, key, append(existing, rec...))
}

// ReadJournal decodes every entry of one upload's journal.
func (o *Orchestrator) ReadJournal(ctx context.Context, bundleID, uploadID string) ([]JournalRecord, error) {
	data, err := o.blobs.Get(ctx, journalKey(bundleID, uploadID))
	if err != nil {
		return nil, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	var out []JournalRecord
	for {
		var e journalEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, JournalRecord(e))
	}
}

// JournalRecord is the exported view of a journal entry.
type JournalRecord struct {
	ID         string
	BundleID   string
	UploadID   string
	Filename   string
	FileHash   string
	Nodes      int
	Edges      int
	Warnings   []string
	DurationMS int64
}
