// Package quickxorhash computes the content hash OneDrive reports for every
// file as "quickXorHash".
//
// Each input byte is XORed into a 160-bit circular buffer at a bit offset
// that advances by 11 per byte. The digest is that buffer with the total
// input length XORed, little-endian, into its last eight bytes. The Graph
// API transports the 20-byte digest base64-encoded.
//
// Reference: https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import (
	"encoding/binary"
	"hash"
)

const (
	// Size is the length of a digest in bytes.
	Size = 20

	// BlockSize is the preferred write size. The hash has no real blocks.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
)

type digest struct {
	buf    [Size]byte
	offset int // bit position where the next byte lands
	length uint64
}

// New returns a hash.Hash computing the quickXorHash.
func New() hash.Hash {
	return &digest{}
}

// Write folds p into the buffer. It never fails.
func (d *digest) Write(p []byte) (int, error) {
	for _, b := range p {
		idx := d.offset / 8
		spread := uint16(b) << (d.offset % 8)

		// 160 is a multiple of 8, so a byte spilling past the last cell
		// wraps cleanly into the first one.
		d.buf[idx] ^= byte(spread)
		d.buf[(idx+1)%Size] ^= byte(spread >> 8)

		d.offset = (d.offset + shift) % widthInBits
	}

	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the digest to b without changing the running state.
func (d *digest) Sum(b []byte) []byte {
	out := d.buf

	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], d.length)

	for i, v := range length {
		out[Size-len(length)+i] ^= v
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }
