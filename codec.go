package ringkv

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Codec obscures payloads before they enter storage and restores them on
// read. Decode(Encode(x)) must equal x.
type Codec interface {
	Encode(plaintext []byte) ([]byte, error)
	Decode(ciphertext []byte) ([]byte, error)
}

// AEADCodec seals payloads with XChaCha20-Poly1305. Each ciphertext carries
// its own random nonce as a prefix.
type AEADCodec struct {
	aead cipher.AEAD
}

// NewAEADCodec builds a codec from a 32-byte key.
func NewAEADCodec(key []byte) (*AEADCodec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &AEADCodec{aead: aead}, nil
}

// NewAEADCodecFromPassphrase derives the key with SHA-256.
func NewAEADCodecFromPassphrase(passphrase string) (*AEADCodec, error) {
	key := sha256.Sum256([]byte(passphrase))
	return NewAEADCodec(key[:])
}

// NewRandomAEADCodec uses a fresh key. Data encoded with it cannot be read
// by another process.
func NewRandomAEADCodec() (*AEADCodec, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("codec: generating key: %w", err)
	}
	return NewAEADCodec(key)
}

// codecFromConfig picks the key source in order: hex key, passphrase, random.
func codecFromConfig(cfg CodecConfig) (*AEADCodec, error) {
	switch {
	case cfg.Key != "":
		key, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("codec: decoding key: %w", err)
		}
		return NewAEADCodec(key)
	case cfg.Passphrase != "":
		return NewAEADCodecFromPassphrase(cfg.Passphrase)
	default:
		return NewRandomAEADCodec()
	}
}

func (c *AEADCodec) Encode(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("codec: generating nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *AEADCodec) Decode(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("codec: short ciphertext: %w", ErrCorruptPayload)
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", ErrCorruptPayload)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func encodeAll(c Codec, payloads [][]byte) ([][]byte, error) {
	out := make([][]byte, len(payloads))
	for i, p := range payloads {
		enc, err := c.Encode(p)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

func decodeAll(c Codec, payloads [][]byte) ([][]byte, error) {
	out := make([][]byte, len(payloads))
	for i, p := range payloads {
		dec, err := c.Decode(p)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}
