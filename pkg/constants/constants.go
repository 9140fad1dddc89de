// Package constants defines magic numbers and default values used throughout go-hapcore.
package constants

import "time"

// HKDF salts and infos fixed by the HAP specification for deriving the
// per-direction control-channel keys from a pairing shared secret.
const (
	SaltControl      = "Control-Salt"
	InfoControlRead  = "Control-Read-Encryption-Key"
	InfoControlWrite = "Control-Write-Encryption-Key"
)

// Crypto framing limits (§4.1).
const (
	// MaxFramePlaintext is the largest plaintext payload one AEAD frame may carry.
	MaxFramePlaintext = 1024
	// FrameLengthSize is the size of the little-endian length prefix.
	FrameLengthSize = 2
	// FrameTagSize is the size of the Poly1305 authentication tag.
	FrameTagSize = 16
	// FrameKeySize is the size of a derived ChaCha20-Poly1305 key.
	FrameKeySize = 32
	// FrameNonceSize is the size of the AEAD nonce (32 zero bits || 64-bit counter).
	FrameNonceSize = 12
)

// HTTP limits
const (
	// MaxHeaderBytes bounds the accumulated header-section size the codec
	// will buffer before declaring a codec violation.
	MaxHeaderBytes = 64 * 1024
	// MaxContentLength bounds a declared Content-Length the codec accepts.
	MaxContentLength = 64 * 1024 * 1024
)

// Buffer limits
const (
	// DefaultBodyMemLimit is the in-memory threshold before a request/response
	// body spills to a temp file (large camera snapshots, firmware blobs).
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)

// Connection and registry timing
const (
	// DefaultAcceptReadTimeout is an idle bound for a freshly-accepted
	// connection's first byte. pkg/server does not apply it: its read loop
	// sets no read deadline.
	DefaultAcceptReadTimeout = 90 * time.Second
)

// HAP negative status codes used in application/hap+json error bodies.
const (
	StatusInsufficientPrivileges = -70401
	StatusResourceUnavailable    = -70402
)

// HAP content types used by the core path.
const (
	ContentTypePairingTLV8 = "application/pairing+tlv8"
	ContentTypeHAPJSON     = "application/hap+json"
	ContentTypeJPEG        = "image/jpeg"
)
