package protocol

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrBadSignature = errors.New("protocol: signature verification failed")
	ErrBadPadding   = errors.New("protocol: invalid padding")
	ErrBadKey       = errors.New("protocol: invalid key material")
)

// Sign produces an RSA-PKCS1v15 signature over the SHA-256 digest of hash.
// The hash argument is the hex content hash produced by ComputeHash.
func Sign(hash string, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrBadKey
	}
	digest := sha256.Sum256([]byte(hash))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify checks an RSA-PKCS1v15 signature produced by Sign.
func Verify(hash string, signature []byte, pub *rsa.PublicKey) error {
	if pub == nil {
		return ErrBadKey
	}
	digest := sha256.Sum256([]byte(hash))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return ErrBadSignature
	}
	return nil
}

// HybridCiphertext carries an AES-256-CBC payload with its RSA-OAEP wrapped key.
type HybridCiphertext struct {
	Ciphertext   []byte `json:"ciphertext"`
	EncryptedKey []byte `json:"encrypted_key"`
	IV           []byte `json:"iv"`
}

// EncryptHybrid encrypts plaintext with a fresh AES-256 key in CBC mode and
// wraps the key with the recipient's RSA public key using OAEP.
func EncryptHybrid(plaintext []byte, recipient *rsa.PublicKey) (*HybridCiphertext, error) {
	if recipient == nil {
		return nil, ErrBadKey
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}
	return &HybridCiphertext{Ciphertext: ciphertext, EncryptedKey: wrapped, IV: iv}, nil
}

// DecryptHybrid reverses EncryptHybrid with the recipient's private key.
func DecryptHybrid(ct *HybridCiphertext, priv *rsa.PrivateKey) ([]byte, error) {
	if ct == nil || priv == nil {
		return nil, ErrBadKey
	}
	if len(ct.IV) != aes.BlockSize || len(ct.Ciphertext) == 0 || len(ct.Ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrBadPadding)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct.EncryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ct.Ciphertext))
	cipher.NewCBCDecrypter(block, ct.IV).CryptBlocks(plaintext, ct.Ciphertext)
	return unpadPKCS7(plaintext, aes.BlockSize)
}

// ParsePrivateKeyPEM reads an RSA private key from PKCS#1 or PKCS#8 PEM.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM", ErrBadKey)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadKey)
	}
	return key, nil
}

// ParsePublicKeyPEM reads an RSA public key from PKIX PEM.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM", ErrBadKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadKey)
	}
	return key, nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-pad], nil
}
