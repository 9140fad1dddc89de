// Package crypto implements the HAP control-channel AEAD framing: the
// per-connection CryptoSession that decrypts inbound frames and encrypts
// outbound frames once pairing has handed over a shared secret.
//
// Keys are derived with HKDF-SHA256 (golang.org/x/crypto/hkdf) and frames
// are sealed with ChaCha20-Poly1305 (golang.org/x/crypto/chacha20poly1305),
// the same derive-then-AEAD-frame shape used for per-direction session
// keys and a monotonic counter nonce in the stream-encryption reference
// this package is grounded on, adapted to HAP's fixed salts/infos and its
// 16-bit length-prefixed frame instead of a prepended-nonce frame.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/haldor/go-hapcore/pkg/constants"
	"github.com/haldor/go-hapcore/pkg/errors"
)

// SharedSecret is the 32-byte secret handed to CE by the pairing subsystem
// once pair-setup or pair-verify completes.
type SharedSecret [32]byte

// Session holds the per-direction keys and counters for one connection's
// encrypted transport. Once created it is never detached (§3 invariant):
// there is no way to downgrade a Session back to plaintext.
type Session struct {
	addr string

	readAEAD  cipherAEAD
	writeAEAD cipherAEAD

	readCounter  uint64
	writeCounter uint64

	inbound  []byte // buffered ciphertext awaiting complete frames
	bytesIn  uint64
	bytesOut uint64
}

// cipherAEAD is the narrow slice of cipher.AEAD this package relies on,
// named so tests can swap in a fake without pulling in crypto/cipher.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New derives the read/write keys from secret via HKDF and constructs a
// Session ready to frame traffic for the connection at addr (used only for
// error context).
func New(secret SharedSecret, addr string) (*Session, error) {
	readKey, err := deriveKey(secret, constants.InfoControlRead)
	if err != nil {
		return nil, err
	}
	writeKey, err := deriveKey(secret, constants.InfoControlWrite)
	if err != nil {
		return nil, err
	}

	readAEAD, err := chacha20poly1305.New(readKey)
	if err != nil {
		return nil, errors.NewValidationError("constructing read AEAD: " + err.Error())
	}
	writeAEAD, err := chacha20poly1305.New(writeKey)
	if err != nil {
		return nil, errors.NewValidationError("constructing write AEAD: " + err.Error())
	}

	return &Session{
		addr:      addr,
		readAEAD:  readAEAD,
		writeAEAD: writeAEAD,
	}, nil
}

// NewPeer derives a Session representing the other end of the same
// negotiated secret: its read key is this side's write key and vice
// versa. Production code never needs this — CE only ever runs the
// accessory side of a connection — but a test harness standing in for
// the controller half of the wire needs exactly this mirrored session.
func NewPeer(secret SharedSecret, addr string) (*Session, error) {
	s, err := New(secret, addr)
	if err != nil {
		return nil, err
	}
	s.readAEAD, s.writeAEAD = s.writeAEAD, s.readAEAD
	return s, nil
}

func deriveKey(secret SharedSecret, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret[:], []byte(constants.SaltControl), []byte(info))
	key := make([]byte, constants.FrameKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errors.NewValidationError("deriving session key: " + err.Error())
	}
	return key, nil
}

// FeedCiphertext appends newly-received wire bytes to the inbound buffer.
func (s *Session) FeedCiphertext(b []byte) {
	s.inbound = append(s.inbound, b...)
}

// DrainPlaintext decrypts as many complete frames as are currently
// buffered and returns their concatenated plaintext. A partial trailing
// frame remains buffered for the next FeedCiphertext call. A single AEAD
// authentication failure is fatal: the caller must close the connection
// and must not call DrainPlaintext again.
func (s *Session) DrainPlaintext() ([]byte, error) {
	var out []byte

	for {
		if len(s.inbound) < constants.FrameLengthSize {
			break
		}

		lengthField := s.inbound[:constants.FrameLengthSize]
		length := int(binary.LittleEndian.Uint16(lengthField))
		if length == 0 || length > constants.MaxFramePlaintext {
			return nil, errors.NewDecryptAuthError(s.addr, nil)
		}

		sealedSize := length + constants.FrameTagSize
		frameSize := constants.FrameLengthSize + sealedSize
		if len(s.inbound) < frameSize {
			break // partial frame, wait for more ciphertext
		}

		sealed := s.inbound[constants.FrameLengthSize:frameSize]

		nonce, err := counterNonce(s.readCounter)
		if err != nil {
			return nil, errors.NewCounterOverflowError(s.addr, "read")
		}

		plaintext, err := s.readAEAD.Open(nil, nonce, sealed, lengthField)
		if err != nil {
			return nil, errors.NewDecryptAuthError(s.addr, err)
		}

		s.readCounter++
		s.bytesIn += uint64(len(plaintext))
		out = append(out, plaintext...)

		s.inbound = s.inbound[frameSize:]
	}

	return out, nil
}

// Encrypt splits plaintext into <=1024-byte chunks in order and produces
// one length-prefixed, tagged frame per chunk, concatenated. Empty
// plaintext produces no frames.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	var out []byte

	for offset := 0; offset < len(plaintext); {
		end := offset + constants.MaxFramePlaintext
		if end > len(plaintext) {
			end = len(plaintext)
		}
		chunk := plaintext[offset:end]

		lengthField := make([]byte, constants.FrameLengthSize)
		binary.LittleEndian.PutUint16(lengthField, uint16(len(chunk)))

		nonce, err := counterNonce(s.writeCounter)
		if err != nil {
			return nil, errors.NewCounterOverflowError(s.addr, "write")
		}

		sealed := s.writeAEAD.Seal(nil, nonce, chunk, lengthField)
		s.writeCounter++
		s.bytesOut += uint64(len(chunk))

		out = append(out, lengthField...)
		out = append(out, sealed...)

		offset = end
	}

	return out, nil
}

// counterNonce builds the 96-bit AEAD nonce: 32 zero bits followed by the
// 64-bit little-endian frame counter.
func counterNonce(counter uint64) ([]byte, error) {
	if counter == math.MaxUint64 {
		return nil, errors.NewValidationError("frame counter exhausted")
	}
	nonce := make([]byte, constants.FrameNonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce, nil
}

// BytesRead returns the total plaintext bytes decrypted so far.
func (s *Session) BytesRead() uint64 { return s.bytesIn }

// BytesWritten returns the total plaintext bytes encrypted so far.
func (s *Session) BytesWritten() uint64 { return s.bytesOut }

// Close drops the session's references to its AEAD ciphers so the derived
// keys become unreachable after the connection ends. The key bytes are not
// overwritten.
func (s *Session) Close() {
	// chacha20poly1305's AEAD holds its own copy of the key internally and
	// offers no zeroization hook; dropping our references lets GC reclaim
	// them. Counters are left untouched for any final metrics read.
	s.readAEAD = nil
	s.writeAEAD = nil
}
