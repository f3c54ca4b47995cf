// Package crypt 提供消息正文的对称加密。密文格式为 nonce || sealed，
// 使用 XChaCha20-Poly1305，随机 24 字节 nonce 可以安全地随机生成。
package crypt

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt 表示密文损坏、被篡改或由其它密钥加密。
var ErrDecrypt = errors.New("crypt: cannot decrypt ciphertext")

// Cipher 是无状态的加解密原语。
type Cipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

type AEAD struct {
	aead cipher.AEAD
}

func New(key []byte) (*AEAD, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	return &AEAD{aead: aead}, nil
}

// NewFromBase64 解析配置中的 base64 密钥（32 字节）。
func NewFromBase64(key string) (*AEAD, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: decode key: %w", err)
	}
	return New(raw)
}

// GenerateKey 返回一个新的随机 base64 密钥，可直接写入 CIPHER_KEY。
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (a *AEAD) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypt: nonce: %w", err)
	}
	return a.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (a *AEAD) Decrypt(ciphertext []byte) (string, error) {
	ns := a.aead.NonceSize()
	if len(ciphertext) < ns+a.aead.Overhead() {
		return "", fmt.Errorf("%w: %d bytes is too short", ErrDecrypt, len(ciphertext))
	}
	plain, err := a.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
