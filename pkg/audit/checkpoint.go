package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/crypto"
)

// Checkpoint is an unsigned snapshot of the chain head (see
// SignCheckpointAttestation for a signed wrapper), exported so an offline
// mirror can attest to having observed the log up to a given point without
// replaying every entry (spec.md §4.4, "checkpoint"). CheckpointHash is its
// primary key: it is derived from the other three fields, so two
// checkpoints can only collide if they describe the same chain position.
type Checkpoint struct {
	ChainHeadHash  string
	SequenceNumber uint64
	Timestamp      time.Time
	CheckpointHash string
}

// ExportCheckpoint snapshots the current chain head and persists it to the
// checkpoints table. checkpoint_hash binds the head hash, sequence number,
// and timestamp together so a checkpoint cannot be replayed against a
// different chain position without detection.
func (l *Log) ExportCheckpoint(ctx context.Context) (*Checkpoint, error) {
	headHash, seq, err := l.Head(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "read chain head for checkpoint", err)
	}

	cp := &Checkpoint{
		ChainHeadHash:  headHash,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC(),
	}
	cp.CheckpointHash = crypto.Digest([]byte(
		cp.ChainHeadHash + ":" + cp.Timestamp.Format(time.RFC3339Nano) + ":" + strconv.FormatUint(cp.SequenceNumber, 10),
	))

	if _, err := l.db.ExecContext(ctx, l.db.Q(`
		INSERT INTO checkpoints (checkpoint_hash, chain_head_hash, ts, sequence_number)
		VALUES (?, ?, ?, ?)
	`), cp.CheckpointHash, cp.ChainHeadHash, cp.Timestamp, cp.SequenceNumber); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFailure, "persist checkpoint", err)
	}

	return cp, nil
}
