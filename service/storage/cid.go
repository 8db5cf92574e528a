package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// chunkSize is kubo's default fixed-size chunker block. Payloads up to this
// size are stored as a single raw leaf when raw leaves are enabled.
const chunkSize = 262144

// verifyCID parses the content address returned by the store. For
// single-block raw payloads it recomputes the address locally and requires a
// match. It returns the canonical string form.
func verifyCID(hash string, payload []byte) (string, error) {
	if hash == "" {
		return "", fmt.Errorf("store returned no content address")
	}
	got, err := cid.Decode(hash)
	if err != nil {
		return "", fmt.Errorf("store returned invalid content address %q: %w", hash, err)
	}

	if len(payload) > chunkSize || got.Prefix().Codec != cid.Raw {
		return got.String(), nil
	}

	want, err := rawCID(payload)
	if err != nil {
		return "", err
	}
	if !got.Equals(want) {
		return "", fmt.Errorf("content address mismatch: store returned %s, expected %s", got, want)
	}
	return got.String(), nil
}

// rawCID is the CIDv1 of payload stored as one raw sha2-256 block.
func rawCID(payload []byte) (cid.Cid, error) {
	sum, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
