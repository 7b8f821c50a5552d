package soft

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// AES key wrap per RFC 3394, and with padding per RFC 5649.

var (
	errKWInput     = errors.New("key wrap input must be a multiple of 8 bytes and at least 16 bytes")
	errKWIntegrity = errors.New("key unwrap integrity check failed")

	kwDefaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}
)

const kwpIVPrefix = 0xA65959A6

// wrapBlocks runs the RFC 3394 wrapping process W over n 64-bit blocks.
func wrapBlocks(block cipher.Block, iv [8]byte, plaintext []byte) []byte {
	n := len(plaintext) / 8
	out := make([]byte, 8+len(plaintext))
	copy(out[8:], plaintext)

	var buf [16]byte
	a := iv
	for j := 0; j < 6; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], out[i*8:i*8+8])
			block.Encrypt(buf[:], buf[:])
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(a[:], binary.BigEndian.Uint64(buf[:8])^t)
			copy(out[i*8:], buf[8:])
		}
	}
	copy(out[:8], a[:])
	return out
}

// unwrapBlocks inverts wrapBlocks and returns the recovered IV.
func unwrapBlocks(block cipher.Block, ciphertext []byte) ([8]byte, []byte) {
	n := len(ciphertext)/8 - 1
	out := make([]byte, n*8)
	copy(out, ciphertext[8:])

	var a [8]byte
	copy(a[:], ciphertext[:8])
	var buf [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(buf[:8], binary.BigEndian.Uint64(a[:])^t)
			copy(buf[8:], out[(i-1)*8:i*8])
			block.Decrypt(buf[:], buf[:])
			copy(a[:], buf[:8])
			copy(out[(i-1)*8:], buf[8:])
		}
	}
	return a, out
}

func kwCipher(kek []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("invalid key-encryption key: %w", err)
	}
	return block, nil
}

// keyWrap wraps plaintext with RFC 3394.
func keyWrap(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext)%8 != 0 || len(plaintext) < 16 {
		return nil, errKWInput
	}
	block, err := kwCipher(kek)
	if err != nil {
		return nil, err
	}
	return wrapBlocks(block, kwDefaultIV, plaintext), nil
}

// keyUnwrap unwraps RFC 3394 ciphertext.
func keyUnwrap(kek, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%8 != 0 || len(ciphertext) < 24 {
		return nil, errKWInput
	}
	block, err := kwCipher(kek)
	if err != nil {
		return nil, err
	}
	iv, out := unwrapBlocks(block, ciphertext)
	if subtle.ConstantTimeCompare(iv[:], kwDefaultIV[:]) != 1 {
		return nil, errKWIntegrity
	}
	return out, nil
}

// keyWrapPad wraps plaintext of any non-zero length with RFC 5649.
func keyWrapPad(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 || uint64(len(plaintext)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("padded key wrap input length %d out of range", len(plaintext))
	}
	block, err := kwCipher(kek)
	if err != nil {
		return nil, err
	}

	var iv [8]byte
	binary.BigEndian.PutUint32(iv[:4], kwpIVPrefix)
	binary.BigEndian.PutUint32(iv[4:], uint32(len(plaintext)))

	padded := make([]byte, (len(plaintext)+7)/8*8)
	copy(padded, plaintext)

	if len(padded) == 8 {
		buf := make([]byte, 16)
		copy(buf, iv[:])
		copy(buf[8:], padded)
		block.Encrypt(buf, buf)
		return buf, nil
	}
	return wrapBlocks(block, iv, padded), nil
}

// keyUnwrapPad unwraps RFC 5649 ciphertext and strips the padding.
func keyUnwrapPad(kek, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%8 != 0 || len(ciphertext) < 16 {
		return nil, errKWInput
	}
	block, err := kwCipher(kek)
	if err != nil {
		return nil, err
	}

	var iv [8]byte
	var out []byte
	if len(ciphertext) == 16 {
		buf := make([]byte, 16)
		block.Decrypt(buf, ciphertext)
		copy(iv[:], buf[:8])
		out = buf[8:]
	} else {
		iv, out = unwrapBlocks(block, ciphertext)
	}

	if binary.BigEndian.Uint32(iv[:4]) != kwpIVPrefix {
		return nil, errKWIntegrity
	}
	mli := int(binary.BigEndian.Uint32(iv[4:]))
	if mli > len(out) || mli <= len(out)-8 {
		return nil, errKWIntegrity
	}
	var pad byte
	for _, b := range out[mli:] {
		pad |= b
	}
	if pad != 0 {
		return nil, errKWIntegrity
	}
	return out[:mli], nil
}
