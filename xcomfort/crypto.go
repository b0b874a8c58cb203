package xcomfort

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and frame parameters. Both ends of the channel must use
// the same values; changing them on one side breaks interop.
const (
	kdfIterations  = 4096
	sessionKeySize = 32

	// gcmNonceSize is the AES-GCM nonce size: a 4-byte session prefix
	// followed by the 8-byte frame counter.
	gcmNonceSize    = 12
	noncePrefixSize = 4
	counterSize     = 8
)

// SessionKeys holds the symmetric key material for one channel session.
// Derived from the user's authkey and the salt served during bootstrap,
// so every session encrypts under a fresh key. Each direction gets its
// own nonce prefix, so the two sides' frame counters never collide on a
// GCM nonce.
type SessionKeys struct {
	key          []byte
	clientPrefix []byte
	bridgePrefix []byte
}

// DeriveSessionKeys runs the KDF over the authkey and the server-provided
// salt. The first 32 bytes of output key the cipher; the next two 4-byte
// blocks become the client-to-bridge and bridge-to-client nonce prefixes.
func DeriveSessionKeys(authkey string, salt []byte) SessionKeys {
	material := pbkdf2.Key([]byte(authkey), salt, kdfIterations, sessionKeySize+2*noncePrefixSize, sha256.New)
	return SessionKeys{
		key:          material[:sessionKeySize],
		clientPrefix: material[sessionKeySize : sessionKeySize+noncePrefixSize],
		bridgePrefix: material[sessionKeySize+noncePrefixSize:],
	}
}

// mirror returns the keys as seen from the bridge's side of the channel:
// same cipher key, directions swapped. Used to emulate the peer in tests.
func (k SessionKeys) mirror() SessionKeys {
	return SessionKeys{key: k.key, clientPrefix: k.bridgePrefix, bridgePrefix: k.clientPrefix}
}

// AuthProof computes the bootstrap authentication proof over a server
// challenge: SHA-256(authkey ‖ challenge), hex-encoded by the caller.
func AuthProof(authkey string, challenge []byte) []byte {
	h := sha256.New()
	h.Write([]byte(authkey))
	h.Write(challenge)
	return h.Sum(nil)
}

// frameCipher performs authenticated encryption of channel frames with
// AES-256-GCM. The MAC covers the full frame body; the frame counter is
// additionally authenticated as associated data so a relocated counter
// cannot be spliced onto another ciphertext. Sealing uses the local
// direction's nonce prefix, opening the peer's.
type frameCipher struct {
	aead       cipher.AEAD
	sealPrefix []byte
	openPrefix []byte
}

func newFrameCipher(keys SessionKeys) (*frameCipher, error) {
	block, err := aes.NewCipher(keys.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if len(keys.clientPrefix) != noncePrefixSize || len(keys.bridgePrefix) != noncePrefixSize {
		return nil, fmt.Errorf("%w: nonce prefixes must be %d bytes", ErrHandshakeFailed, noncePrefixSize)
	}
	return &frameCipher{aead: aead, sealPrefix: keys.clientPrefix, openPrefix: keys.bridgePrefix}, nil
}

// nonce builds the GCM nonce for a frame counter.
func (c *frameCipher) nonce(prefix []byte, counter uint64) []byte {
	n := make([]byte, gcmNonceSize)
	copy(n, prefix)
	binary.BigEndian.PutUint64(n[noncePrefixSize:], counter)
	return n
}

// seal encrypts a plaintext frame body under the given counter and returns
// the wire frame: counter(8) ‖ ciphertext+tag.
func (c *frameCipher) seal(counter uint64, plaintext []byte) []byte {
	header := make([]byte, counterSize)
	binary.BigEndian.PutUint64(header, counter)
	return c.aead.Seal(header, c.nonce(c.sealPrefix, counter), plaintext, header)
}

// open authenticates and decrypts a wire frame, returning its counter and
// plaintext body. A MAC mismatch yields ErrAuthFailure.
func (c *frameCipher) open(frame []byte) (uint64, []byte, error) {
	if len(frame) < counterSize+c.aead.Overhead() {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidFrame, len(frame))
	}
	header := frame[:counterSize]
	counter := binary.BigEndian.Uint64(header)
	plaintext, err := c.aead.Open(nil, c.nonce(c.openPrefix, counter), frame[counterSize:], header)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	return counter, plaintext, nil
}
