package signature

import (
	"encoding/binary"
	"math/bits"
)

// roundFn is the non-linear part of one cipher round: byte substitution
// over all four bytes of the word, then a linear diffusion of the result
// with four of its own left rotations.
func roundFn(x uint32) uint32 {
	r := uint32(sbox[x>>24])<<24 |
		uint32(sbox[(x>>16)&0xff])<<16 |
		uint32(sbox[(x>>8)&0xff])<<8 |
		uint32(sbox[x&0xff])
	return r ^ bits.RotateLeft32(r, 2) ^ bits.RotateLeft32(r, 10) ^ bits.RotateLeft32(r, 18) ^ bits.RotateLeft32(r, 24)
}

// encryptBlock runs one application of the 32-round cipher over a single
// 16-byte block. The block is read as four big-endian words; each round
// mixes three state words with the round key through roundFn and XORs the
// result into the word four positions back. The last four state words,
// reversed, form the output block.
func encryptBlock(block []byte) []byte {
	var n [36]uint32
	for i := 0; i < 4; i++ {
		n[i] = binary.BigEndian.Uint32(block[i*4:])
	}

	for r := 0; r < 32; r++ {
		n[r+4] = n[r] ^ roundFn(n[r+1]^n[r+2]^n[r+3]^uint32(roundKeys[r]))
	}

	out := make([]byte, 16)
	binary.BigEndian.PutUint32(out[0:], n[35])
	binary.BigEndian.PutUint32(out[4:], n[34])
	binary.BigEndian.PutUint32(out[8:], n[33])
	binary.BigEndian.PutUint32(out[12:], n[32])
	return out
}

// encryptFirstBlock handles the leading 16 bytes: XOR against the fixed
// offset table, XOR with 42, then one block encryption. Its output doubles
// as the IV for the CBC pass over the remaining bytes.
func encryptFirstBlock(block []byte) []byte {
	x := make([]byte, 16)
	for i := range x {
		x[i] = block[i] ^ firstBlockOffset[i] ^ 42
	}
	return encryptBlock(x)
}

// encryptCBC chains the remaining 16-byte blocks in CBC mode starting
// from the given IV. len(data) must be a multiple of 16.
func encryptCBC(data, iv []byte) []byte {
	out := make([]byte, 0, len(data))
	prev := iv
	for off := 0; off < len(data); off += 16 {
		x := make([]byte, 16)
		for i := range x {
			x[i] = data[off+i] ^ prev[i]
		}
		prev = encryptBlock(x)
		out = append(out, prev...)
	}
	return out
}
