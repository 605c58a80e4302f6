package keyring

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"golang.org/x/crypto/nacl/box"
)

const (
	nonceSize = 24
	keySize   = 32
)

var (
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrInvalidPeerKey     = errors.New("invalid peer encryption pubkey")
	ErrKeyRingFileMissing = errors.New("keyring file not found")
)

// KeyRing holds the secp256k1 key used to sign protocol messages and the
// curve25519 key pair used to receive encrypted ones.
type KeyRing struct {
	signingKey *btcec.PrivateKey
	encPubKey  *[keySize]byte
	encPrvKey  *[keySize]byte
}

// New returns a keyring with freshly generated keys.
func New() (*KeyRing, error) {
	signingKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	encPubKey, encPrvKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyRing{signingKey, encPubKey, encPrvKey}, nil
}

// LoadOrCreate restores the keyring sealed in the given file or, if the file
// doesn't exist, creates a new keyring and seals it there with the password.
func LoadOrCreate(filename, password string) (*KeyRing, error) {
	kr, err := Load(filename, password)
	if err == nil {
		return kr, nil
	}
	if !errors.Is(err, ErrKeyRingFileMissing) {
		return nil, err
	}

	kr, err = New()
	if err != nil {
		return nil, err
	}
	if err := kr.Save(filename, password); err != nil {
		return nil, err
	}
	return kr, nil
}

type keyRingFile struct {
	SigningKey    []byte `json:"signing_key"`
	EncryptionKey []byte `json:"encryption_key"`
}

// Load restores a keyring from a file written with Save.
func Load(filename, password string) (*KeyRing, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyRingFileMissing
		}
		return nil, err
	}
	plaintext, err := Decrypt(DecryptOpts{CypherText: string(buf), Passphrase: password})
	if err != nil {
		return nil, fmt.Errorf("failed to unseal keyring: %w", err)
	}

	f := keyRingFile{}
	if err := json.Unmarshal([]byte(plaintext), &f); err != nil {
		return nil, err
	}
	if len(f.EncryptionKey) != keySize {
		return nil, fmt.Errorf("invalid encryption key length")
	}

	signingKey, _ := btcec.PrivKeyFromBytes(f.SigningKey)
	encPrvKey := &[keySize]byte{}
	copy(encPrvKey[:], f.EncryptionKey)
	encPubKey := publicKeyOf(encPrvKey)
	return &KeyRing{signingKey, encPubKey, encPrvKey}, nil
}

// Save seals the keyring with the given password and writes it to file.
func (k *KeyRing) Save(filename, password string) error {
	buf, _ := json.Marshal(keyRingFile{
		SigningKey:    k.signingKey.Serialize(),
		EncryptionKey: k.encPrvKey[:],
	})
	ciphertext, err := Encrypt(EncryptOpts{PlainText: string(buf), Passphrase: password})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(ciphertext), 0600)
}

func (k *KeyRing) PubKeyRing() domain.PubKeyRing {
	encPubKey := make([]byte, keySize)
	copy(encPubKey, k.encPubKey[:])
	return domain.PubKeyRing{
		SignaturePubKey:  k.signingKey.PubKey().SerializeCompressed(),
		EncryptionPubKey: encPubKey,
	}
}

// Sign returns the DER-encoded ecdsa signature of the sha256 digest of data.
func (k *KeyRing) Sign(data []byte) ([]byte, error) {
	if len(data) <= 0 {
		return nil, fmt.Errorf("missing data to sign")
	}
	sig := ecdsa.Sign(k.signingKey, chainhash.HashB(data))
	return sig.Serialize(), nil
}

// Verify checks that sig is a valid signature of data for the given
// secp256k1 compressed pubkey.
func (k *KeyRing) Verify(pubkey, data, sig []byte) bool {
	return Verify(pubkey, data, sig)
}

// Seal encrypts plaintext for the owner of the given encryption pubkey. The
// random nonce is prepended to the returned ciphertext.
func (k *KeyRing) Seal(peerEncryptionPubKey, plaintext []byte) ([]byte, error) {
	peerKey, err := parseEncryptionKey(peerEncryptionPubKey)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return box.Seal(nonce[:], plaintext, &nonce, peerKey, k.encPrvKey), nil
}

// Open decrypts a ciphertext produced by the owner of the given encryption
// pubkey with Seal.
func (k *KeyRing) Open(peerEncryptionPubKey, ciphertext []byte) ([]byte, error) {
	peerKey, err := parseEncryptionKey(peerEncryptionPubKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize+box.Overhead {
		return nil, ErrInvalidCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := box.Open(nil, ciphertext[nonceSize:], &nonce, peerKey, k.encPrvKey)
	if !ok {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// Verify checks a signature produced with KeyRing.Sign.
func Verify(pubkey, data, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return signature.Verify(chainhash.HashB(data), pub)
}

func parseEncryptionKey(key []byte) (*[keySize]byte, error) {
	if len(key) != keySize {
		return nil, ErrInvalidPeerKey
	}
	k := &[keySize]byte{}
	copy(k[:], key)
	return k, nil
}
