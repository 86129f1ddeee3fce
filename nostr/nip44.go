package nostr

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	nip44Version = 2

	nip44Salt = "nip44-v2"

	nip44MinPlaintext = 1
	nip44MaxPlaintext = 65535

	// version byte, nonce, min padded plaintext with length prefix, mac.
	nip44MinPayload = 1 + 32 + 34 + 32
	nip44MaxPayload = 1 + 32 + 65538 + 32
)

// conversationKey derives the NIP-44 conversation key from the shared ECDH x
// coordinate.
func conversationKey(shared []byte) []byte {
	return hkdf.Extract(sha256.New, shared, []byte(nip44Salt))
}

// messageKeys expands the per message ChaCha20 key and nonce and the HMAC
// key.
func messageKeys(convKey, nonce []byte) ([]byte, []byte, []byte, error) {
	keys := make([]byte, 76)
	r := hkdf.Expand(sha256.New, convKey, nonce)
	if _, err := io.ReadFull(r, keys); err != nil {
		return nil, nil, nil, err
	}

	return keys[0:32], keys[32:44], keys[44:76], nil
}

// calcPaddedLen returns the padded size of a plaintext of the given length.
func calcPaddedLen(n int) int {
	if n <= 32 {
		return 32
	}

	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}

	return chunk * ((n-1)/chunk + 1)
}

// encryptNIP44 encrypts plaintext under the conversation key. A nil nonce is
// replaced by 32 random bytes.
func encryptNIP44(convKey []byte, plaintext string, nonce []byte) (string,
	error) {

	n := len(plaintext)
	if n < nip44MinPlaintext || n > nip44MaxPlaintext {
		return "", ErrInvalidPlaintextLength
	}

	if nonce == nil {
		nonce = make([]byte, 32)
		if _, err := rand.Read(nonce); err != nil {
			return "", err
		}
	}

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(padded, uint16(n))
	copy(padded[2:], plaintext)

	c, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	c.XORKeyStream(ciphertext, padded)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(nonce)
	mac.Write(ciphertext)

	payload := make([]byte, 0, 1+len(nonce)+len(ciphertext)+sha256.Size)
	payload = append(payload, nip44Version)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = mac.Sum(payload)

	return base64.StdEncoding.EncodeToString(payload), nil
}

// decryptNIP44 opens a payload produced by encryptNIP44.
func decryptNIP44(convKey []byte, payload string) (string, error) {
	if payload == "" || payload[0] == '#' {
		return "", ErrUnsupportedVersion
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < nip44MinPayload || len(raw) > nip44MaxPayload {
		return "", fmt.Errorf("%w: payload length %d", ErrDecrypt,
			len(raw))
	}
	if raw[0] != nip44Version {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, raw[0])
	}

	nonce := raw[1:33]
	ciphertext := raw[33 : len(raw)-32]
	tag := raw[len(raw)-32:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(nonce)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return "", fmt.Errorf("%w: invalid mac", ErrDecrypt)
	}

	c, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	c.XORKeyStream(padded, ciphertext)

	n := int(binary.BigEndian.Uint16(padded))
	if n < nip44MinPlaintext || len(padded) != 2+calcPaddedLen(n) {
		return "", fmt.Errorf("%w: invalid padding", ErrDecrypt)
	}

	return string(padded[2 : 2+n]), nil
}
