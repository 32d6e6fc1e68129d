// Package crypto implements the envelope's two encryption contracts:
// a hybrid RSA+AES-256-CBC seal for unicast peer-to-peer traffic, and a
// password-derived AES-256-CBC key for group messages. Both produce the
// legacy `#`-delimited textual wire record so this implementation
// interoperates with the reference wire format.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// RSABits is the modulus size for generated keypairs. The spec treats
// this as a pluggable parameter; 2048 is the contract's default.
const RSABits = 2048

// CryptoError wraps any failure of a seal/open operation, per the error
// kind spec.md §7 names.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err) }
func (e *CryptoError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CryptoError{Op: op, Err: err}
}

// GenerateKeypair produces a fresh RSA keypair, DER-encoded as
// PKIX (public) / PKCS8 (private).
func GenerateKeypair() (pub, priv []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, nil, wrapErr("generate keypair", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, wrapErr("marshal public key", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, wrapErr("marshal private key", err)
	}
	return pubDER, privDER, nil
}

// MarshalPublicKey PKIX-encodes an RSA public key, the inverse of
// ParsePublicKey.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, wrapErr("marshal public key", err)
	}
	return der, nil
}

// ParsePublicKey decodes a PKIX-encoded RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, wrapErr("parse public key", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, wrapErr("parse public key", errors.New("not an RSA public key"))
	}
	return rsaKey, nil
}

// ParsePrivateKey decodes a PKCS8-encoded RSA private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, wrapErr("parse private key", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, wrapErr("parse private key", errors.New("not an RSA private key"))
	}
	return rsaKey, nil
}

// SaveKeypair persists a generated keypair as raw DER files (pub.der,
// priv.der) under dir, creating dir if needed, so re-running the node
// against the same directory keeps its identity (key material, unlike
// overlay membership, is allowed to survive a restart).
func SaveKeypair(dir string, pub, priv []byte) error {
	if len(pub) == 0 || len(priv) == 0 {
		return wrapErr("save keypair", errors.New("empty key"))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return wrapErr("save keypair", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pub.der"), pub, 0600); err != nil {
		return wrapErr("save keypair", err)
	}
	return os.WriteFile(filepath.Join(dir, "priv.der"), priv, 0600)
}

// LoadKeypair reads back a keypair saved by SaveKeypair. Returns an
// error satisfying os.IsNotExist when no keypair has been saved yet.
func LoadKeypair(dir string) (pub, priv []byte, err error) {
	pub, err = os.ReadFile(filepath.Join(dir, "pub.der"))
	if err != nil {
		return nil, nil, err
	}
	priv, err = os.ReadFile(filepath.Join(dir, "priv.der"))
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// LoadOrGenerateKeypair loads a previously saved keypair from dir, or
// generates and persists a fresh one if none exists yet.
func LoadOrGenerateKeypair(dir string) (pub, priv []byte, err error) {
	pub, priv, err = LoadKeypair(dir)
	if err == nil {
		return pub, priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, err
	}
	pub, priv, err = GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}
	if err := SaveKeypair(dir, pub, priv); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// -----------------------------------------------------------------------
// Unicast hybrid seal: fresh AES-256 key + random IV under AES-CBC,
// wrapped with the peer's RSA public key via OAEP.
// -----------------------------------------------------------------------

const (
	aesKeySize = 32
	aesIVSize  = aes.BlockSize
)

// PublicEncrypt seals plaintext for peerPub: a fresh AES-256-CBC key/IV
// encrypts plaintext, and the key is wrapped under the peer's RSA public
// key. The result is the `#`-delimited textual wire record from
// spec.md §4.2.
func PublicEncrypt(plaintext []byte, peerPub *rsa.PublicKey) (string, error) {
	key := make([]byte, aesKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", wrapErr("public encrypt", err)
	}
	iv := make([]byte, aesIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", wrapErr("public encrypt", err)
	}
	ciphertext, err := aesCBCEncrypt(key, iv, plaintext)
	if err != nil {
		return "", wrapErr("public encrypt", err)
	}
	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, peerPub, key, nil)
	if err != nil {
		return "", wrapErr("public encrypt", err)
	}
	return encodeRecord(wrappedKey, iv, ciphertext), nil
}

// PrivateDecrypt inverts PublicEncrypt using the local private key.
func PrivateDecrypt(record string, priv *rsa.PrivateKey) ([]byte, error) {
	wrappedKey, iv, ciphertext, err := decodeRecord(record)
	if err != nil {
		return nil, wrapErr("private decrypt", err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedKey, nil)
	if err != nil {
		return nil, wrapErr("private decrypt", err)
	}
	plaintext, err := aesCBCDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, wrapErr("private decrypt", err)
	}
	return plaintext, nil
}

// -----------------------------------------------------------------------
// Group symmetric: PBKDF2(password, salt, 6 iters, SHA-256) derives a
// key and IV shared by every peer that knows the password.
// -----------------------------------------------------------------------

const (
	groupKDFIterations = 6
	groupKDFSalt       = "peerster" // fixed 8-byte salt: interop contract, spec.md §4.2
)

// DeriveGroupKey derives the AES-256 key and IV used for a group's
// symmetric traffic from its password. Every peer that was told the
// same password derives byte-identical key material.
func DeriveGroupKey(password string) (key, iv []byte) {
	material := pbkdf2.Key([]byte(password), []byte(groupKDFSalt), groupKDFIterations, aesKeySize+aesIVSize, sha256.New)
	return material[:aesKeySize], material[aesKeySize:]
}

// GroupEncrypt seals plaintext under a group's derived key/IV, producing
// the `ciphertext-base64 # len` wire record from spec.md §4.2.
func GroupEncrypt(plaintext, key, iv []byte) (string, error) {
	ciphertext, err := aesCBCEncrypt(key, iv, plaintext)
	if err != nil {
		return "", wrapErr("group encrypt", err)
	}
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return fmt.Sprintf("%s#%d", encoded, len(encoded)), nil
}

// GroupDecrypt inverts GroupEncrypt. Decrypt failure (including a
// mis-keyed peer using the wrong password) is reported as an error; the
// caller treats it as a non-fatal "used another key" event, not a fatal
// one.
func GroupDecrypt(record string, key, iv []byte) ([]byte, error) {
	encoded, _, err := splitLenField(record)
	if err != nil {
		return nil, wrapErr("group decrypt", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, wrapErr("group decrypt", err)
	}
	plaintext, err := aesCBCDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, wrapErr("group decrypt", err)
	}
	return plaintext, nil
}

// -----------------------------------------------------------------------
// AES-256-CBC with PKCS#7 padding.
// -----------------------------------------------------------------------

func aesCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padLen], nil
}

// -----------------------------------------------------------------------
// Textual record framing: wrapped-key#len#iv#len#ciphertext#len
// (all base64 fields), per spec.md §4.2/§6.
// -----------------------------------------------------------------------

func encodeRecord(wrappedKey, iv, ciphertext []byte) string {
	wk := base64.StdEncoding.EncodeToString(wrappedKey)
	ivEnc := base64.StdEncoding.EncodeToString(iv)
	ct := base64.StdEncoding.EncodeToString(ciphertext)
	return fmt.Sprintf("%s#%d#%s#%d#%s#%d", wk, len(wk), ivEnc, len(ivEnc), ct, len(ct))
}

func decodeRecord(record string) (wrappedKey, iv, ciphertext []byte, err error) {
	fields := strings.Split(record, "#")
	if len(fields) != 6 {
		return nil, nil, nil, fmt.Errorf("malformed record: expected 6 fields, got %d", len(fields))
	}
	wkStr, wkLen := fields[0], fields[1]
	ivStr, ivLen := fields[2], fields[3]
	ctStr, ctLen := fields[4], fields[5]
	if err := checkLen(wkStr, wkLen); err != nil {
		return nil, nil, nil, err
	}
	if err := checkLen(ivStr, ivLen); err != nil {
		return nil, nil, nil, err
	}
	if err := checkLen(ctStr, ctLen); err != nil {
		return nil, nil, nil, err
	}
	wrappedKey, err = base64.StdEncoding.DecodeString(wkStr)
	if err != nil {
		return nil, nil, nil, err
	}
	iv, err = base64.StdEncoding.DecodeString(ivStr)
	if err != nil {
		return nil, nil, nil, err
	}
	ciphertext, err = base64.StdEncoding.DecodeString(ctStr)
	if err != nil {
		return nil, nil, nil, err
	}
	return wrappedKey, iv, ciphertext, nil
}

func splitLenField(record string) (value string, length int, err error) {
	idx := strings.LastIndex(record, "#")
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed record: missing length field")
	}
	value = record[:idx]
	if err := checkLen(value, record[idx+1:]); err != nil {
		return "", 0, err
	}
	length, _ = strconv.Atoi(record[idx+1:])
	return value, length, nil
}

func checkLen(value, lenStr string) error {
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return fmt.Errorf("malformed length field %q: %w", lenStr, err)
	}
	if n != len(value) {
		return fmt.Errorf("length mismatch: field says %d, actual %d", n, len(value))
	}
	return nil
}
