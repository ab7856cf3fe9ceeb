package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// EncryptAESCBC encrypts plaintext with AES-256-CBC without padding.
// plaintext must be a non-empty multiple of the block size and iv exactly one block.
func EncryptAESCBC(key, iv, plaintext []byte) ([]byte, error) {
	mode, err := cbcMode(key, iv, plaintext, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	mode.CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptAESCBC reverses EncryptAESCBC.
func DecryptAESCBC(key, iv, ciphertext []byte) ([]byte, error) {
	mode, err := cbcMode(key, iv, ciphertext, false)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	mode.CryptBlocks(out, ciphertext)
	return out, nil
}

func cbcMode(key, iv, data []byte, encrypt bool) (cipher.BlockMode, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-256 key must be 32 bytes, got %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("data length %d is not a positive multiple of %d", len(data), aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes new cipher: %w", err)
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, iv), nil
	}
	return cipher.NewCBCDecrypter(block, iv), nil
}
