// ABOUTME: Signature verification and AES-CBC payload crypto for WeCom callbacks
// ABOUTME: Implements the platform's EncodingAESKey scheme including manual padding

package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Crypto errors. Decrypt failures never include plaintext in their message.
var (
	ErrBadKeyLength   = errors.New("encoding AES key must be 43 characters")
	ErrBadPadding     = errors.New("invalid padding in decrypted payload")
	ErrCorpIDMismatch = errors.New("corp id in payload does not match expected corp id")
	ErrBadPayload     = errors.New("malformed encrypted payload")
)

// The platform pads to a 32-byte block even though AES-CBC only requires 16.
const padBlockSize = 32

// Keypair holds the AES key and IV derived from a 43-character EncodingAESKey.
// The IV is the first 16 bytes of the key, fixed per installation by the
// platform's scheme.
type Keypair struct {
	Key []byte
	IV  []byte
}

// DecodeKey derives a Keypair from the 43-character EncodingAESKey configured
// on the platform side. The key is base64 without its trailing padding
// character; appending "=" restores a decodable 32-byte secret.
func DecodeKey(encodingAESKey string) (Keypair, error) {
	if len(encodingAESKey) != 43 {
		return Keypair{}, ErrBadKeyLength
	}
	raw, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return Keypair{}, fmt.Errorf("decoding AES key: %w", err)
	}
	if len(raw) != 32 {
		return Keypair{}, fmt.Errorf("decoded AES key is %d bytes, want 32", len(raw))
	}
	return Keypair{Key: raw, IV: raw[:16]}, nil
}

// ComputeSignature returns the hex SHA-1 of the four values sorted
// lexicographically and concatenated, per the platform's msg_signature scheme.
func ComputeSignature(token, timestamp, nonce, cipherText string) string {
	parts := []string{token, timestamp, nonce, cipherText}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature reports whether signature matches the computed signature for
// the given values. Comparison is constant-time.
func VerifySignature(signature, token, timestamp, nonce, cipherText string) bool {
	expected := ComputeSignature(token, timestamp, nonce, cipherText)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// Decrypt decodes and decrypts a base64 AES-256-CBC payload and returns the
// embedded message. The decrypted layout is
// random(16) | msgLen(4, big-endian) | msg(msgLen) | corpID.
// The corp id check is the multi-tenant isolation boundary: a valid signature
// alone does not prove the ciphertext belongs to this deployment.
func Decrypt(base64Cipher string, kp Keypair, expectedCorpID string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(base64Cipher)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrBadPayload
	}

	block, err := aes.NewCipher(kp.Key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, kp.IV).CryptBlocks(plain, data)

	// Manual unpad: the platform's pad byte range is [1,32], wider than
	// standard PKCS#7 over 16-byte blocks.
	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > padBlockSize || pad > len(plain) {
		return nil, ErrBadPadding
	}
	plain = plain[:len(plain)-pad]

	if len(plain) < 20 {
		return nil, ErrBadPayload
	}
	msgLen := binary.BigEndian.Uint32(plain[16:20])
	if int(msgLen) > len(plain)-20 {
		return nil, ErrBadPayload
	}

	msg := plain[20 : 20+msgLen]
	corpID := string(plain[20+msgLen:])
	if subtle.ConstantTimeCompare([]byte(corpID), []byte(expectedCorpID)) != 1 {
		return nil, ErrCorpIDMismatch
	}

	out := make([]byte, len(msg))
	copy(out, msg)
	return out, nil
}

// Encrypt builds the documented payload layout around msg, pads it, encrypts
// with AES-256-CBC and returns the base64 ciphertext.
func Encrypt(msg []byte, kp Keypair, corpID string) (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("generating random prefix: %w", err)
	}

	buf := make([]byte, 0, 20+len(msg)+len(corpID)+padBlockSize)
	buf = append(buf, random...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
	buf = append(buf, msg...)
	buf = append(buf, corpID...)

	pad := padBlockSize - len(buf)%padBlockSize
	for i := 0; i < pad; i++ {
		buf = append(buf, byte(pad))
	}

	block, err := aes.NewCipher(kp.Key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, kp.IV).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}
