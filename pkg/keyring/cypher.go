package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const saltSize = 32

var (
	ErrNullPlainText     = errors.New("plain text must not be null")
	ErrNullPassphrase    = errors.New("passphrase must not be null")
	ErrNullCypherText    = errors.New("cypher text must not be null")
	ErrInvalidCypherText = errors.New("cypher text must be in base64 format")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrInvalidKey        = errors.New("symmetric key must be 32 bytes long")

	// ScryptN is the cost parameter of the key derivation. 2^20 is the
	// recommended value for key-stretching of interactive logins.
	ScryptN = 1 << 20
)

// EncryptOpts is the struct given to Encrypt method
type EncryptOpts struct {
	PlainText  string
	Passphrase string
}

func (o EncryptOpts) validate() error {
	if len(o.PlainText) <= 0 {
		return ErrNullPlainText
	}
	if len(o.Passphrase) <= 0 {
		return ErrNullPassphrase
	}
	return nil
}

// Encrypt encrypts a plaintext with a key derived from the passphrase.
func Encrypt(opts EncryptOpts) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}

	key, salt, err := DeriveKey([]byte(opts.Passphrase), nil)
	if err != nil {
		return "", err
	}
	ciphertext, err := SealSymmetric(key, []byte(opts.PlainText))
	if err != nil {
		return "", err
	}
	ciphertext = append(ciphertext, salt...)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptOpts is the struct given to Decrypt method
type DecryptOpts struct {
	CypherText string
	Passphrase string
}

func (o DecryptOpts) validate() error {
	if len(o.CypherText) <= 0 {
		return ErrNullCypherText
	}
	buf, err := base64.StdEncoding.DecodeString(o.CypherText)
	if err != nil || len(buf) <= saltSize {
		return ErrInvalidCypherText
	}
	if len(o.Passphrase) <= 0 {
		return ErrNullPassphrase
	}
	return nil
}

// Decrypt decrypts a cyphertext produced by Encrypt with the same passphrase.
func Decrypt(opts DecryptOpts) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}

	data, _ := base64.StdEncoding.DecodeString(opts.CypherText)
	salt, data := data[len(data)-saltSize:], data[:len(data)-saltSize]

	key, _, err := DeriveKey([]byte(opts.Passphrase), salt)
	if err != nil {
		return "", err
	}
	plaintext, err := OpenSymmetric(key, data)
	if err != nil {
		return "", ErrInvalidPassphrase
	}
	return string(plaintext), nil
}

// DeriveKey derives a 32 byte array key from a custom passhprase
func DeriveKey(passphrase, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key, err := scrypt.Key(passphrase, salt, ScryptN, 8, 1, keySize)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}

// NewSymmetricKey returns a random key for SealSymmetric.
func NewSymmetricKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealSymmetric encrypts plaintext with the given key. The random nonce is
// prepended to the returned ciphertext.
func SealSymmetric(key, plaintext []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	var k [keySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k), nil
}

// OpenSymmetric decrypts a ciphertext produced by SealSymmetric.
func OpenSymmetric(key, ciphertext []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrInvalidCiphertext
	}
	var k [keySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &k)
	if !ok {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func publicKeyOf(prvkey *[keySize]byte) *[keySize]byte {
	pubkey := &[keySize]byte{}
	buf, _ := curve25519.X25519(prvkey[:], curve25519.Basepoint)
	copy(pubkey[:], buf)
	return pubkey
}
