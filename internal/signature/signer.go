// Package signature reproduces the per-request authentication signature of
// the protected API. The scheme is undocumented and was reverse-engineered
// from the site's obfuscated JavaScript; this package treats the cipher
// tables as an opaque black box and reproduces the byte flow exactly.
package signature

import (
	"crypto/md5"
	"encoding/hex"
	"math/rand"
	"strings"
)

// Version selects the signing algorithm.
type Version string

const (
	// VersionNew is the current production algorithm: 32-round block
	// cipher in CBC mode over a 48-byte buffer.
	VersionNew Version = "new"
	// VersionOld is the legacy fallback: positional XOR over the digest.
	VersionOld Version = "old"
)

// Prefix carried by every signature header value.
const sigPrefix = "2.0_"

// HeaderSignature and HeaderVersion are the header pair the protected API
// expects on every signed request.
const (
	HeaderSignature = "x-zse-96"
	HeaderVersion   = "x-zse-93"
)

// Context carries the inputs of one signing call. Constructed fresh per
// request; the signer never retains it.
type Context struct {
	VersionTag   string // algorithm identifier string, sent as-is in the version header
	APIPath      string // request path including query
	SessionToken string // opaque session cookie value
	ExtraToken   string // optional secondary token, usually empty
}

// Signer computes signature header values. It is stateless apart from the
// random-byte source and safe for concurrent use.
type Signer struct {
	randByte func() byte
}

// Option customises a Signer.
type Option func(*Signer)

// WithRandByte overrides the random byte folded into the plaintext buffer.
// Used by tests to pin determinism.
func WithRandByte(fn func() byte) Option {
	return func(s *Signer) { s.randByte = fn }
}

// New creates a Signer. The default random byte source draws from [0,126].
func New(opts ...Option) *Signer {
	s := &Signer{
		randByte: func() byte { return byte(rand.Intn(127)) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign produces the signature header value for the given context:
// "2.0_" followed by 64 symbols (new version) or 44 symbols (old version).
// Pure computation, no I/O. A missing session token is the caller's
// precondition failure, not an error here.
func (s *Signer) Sign(ctx Context, v Version) string {
	parts := []string{ctx.VersionTag, ctx.APIPath, ctx.SessionToken}
	if ctx.ExtraToken != "" {
		parts = append(parts, ctx.ExtraToken)
	}
	sum := md5.Sum([]byte(strings.Join(parts, "+")))
	digest := hex.EncodeToString(sum[:])

	if v == VersionOld {
		return sigPrefix + encryptDigestOld(digest)
	}
	return sigPrefix + s.encryptDigestNew(digest)
}

// encryptDigestNew implements the current algorithm over the 32-hex-char
// digest: random byte + zero byte + digest, padded with 14s to 48 bytes,
// first block encrypted standalone, the rest CBC-chained off it, then a
// stride-4 XOR from the end, a full reversal, and symbol encoding.
func (s *Signer) encryptDigestNew(digest string) string {
	buf := make([]byte, 0, 48)
	buf = append(buf, s.randByte(), 0)
	buf = append(buf, digest...)
	for len(buf) < 48 {
		buf = append(buf, 14)
	}

	first := encryptFirstBlock(buf[:16])
	rest := encryptCBC(buf[16:48], first)

	full := make([]byte, 0, 48)
	full = append(full, first...)
	full = append(full, rest...)

	for i := len(full) - 1; i >= 0; i -= 4 {
		full[i] ^= 58
	}
	for i, j := 0, len(full)-1; i < j; i, j = i+1, j-1 {
		full[i], full[j] = full[j], full[i]
	}

	return encodeSymbols(full, alphabetNew)
}

// encryptDigestOld implements the legacy algorithm: the digest plus a
// trailing NUL is walked back to front, XORing positions divisible by
// four with 42, then symbol-encoded against the legacy alphabet.
func encryptDigestOld(digest string) string {
	buf := digest + "\x00"
	arr := make([]byte, 0, len(buf))
	for i := len(buf) - 1; i >= 0; i-- {
		c := buf[i]
		if i%4 == 0 {
			c ^= 42
		}
		arr = append(arr, c)
	}
	return encodeSymbols(arr, alphabetOld)
}
