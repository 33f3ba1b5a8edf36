package packet

import (
	"context"

	"github.com/jacobsprake/munin/pkg/apierr"
	"github.com/jacobsprake/munin/pkg/crypto"
)

// SovereignHash exports a Merkle root over every committed receipt hash
// in namespace, in sequence order: pairwise SHA-256 of concatenated
// children, duplicating the odd one out at each level (spec.md §4.7),
// adapted from the teacher's evidence-tree construction.
func (s *Store) SovereignHash(ctx context.Context, namespace string) (string, error) {
	packets, err := s.ListNamespace(ctx, namespace)
	if err != nil {
		return "", err
	}
	if len(packets) == 0 {
		return "", apierr.New(apierr.KindNotFound, "namespace has no committed packets")
	}

	level := make([]string, len(packets))
	for i, p := range packets {
		level[i] = p.ReceiptHash
	}

	for len(level) > 1 {
		level = nextMerkleLevel(level)
	}
	return level[0], nil
}

func nextMerkleLevel(level []string) []string {
	if len(level)%2 != 0 {
		level = append(level, level[len(level)-1])
	}
	next := make([]string, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next[i/2] = crypto.DigestConcat(level[i], "", level[i+1])
	}
	return next
}
