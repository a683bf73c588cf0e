// Package credential loads the deployer's signing key and builds transaction signers.
package credential

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Sentinel errors
var (
	ErrMissingCredential = errors.New("popdeploy: credential is not set")
	ErrMalformedKey      = errors.New("popdeploy: malformed private key")
	ErrNoChainID         = errors.New("popdeploy: chain ID is required for signing")
)

// Credential is a private key and the address derived from it.
type Credential struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// FromHex parses a hex-encoded secp256k1 private key, with or without 0x prefix.
func FromHex(s string) (*Credential, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrMissingCredential
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	key, err := crypto.HexToECDSA(s)
	if err != nil {
		// Do not echo the input: it is key material.
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, sanitizeKeyError(err))
	}
	return FromKey(key)
}

// FromKey wraps an existing private key.
func FromKey(key *ecdsa.PrivateKey) (*Credential, error) {
	if key == nil || key.D == nil || key.D.Sign() == 0 {
		return nil, ErrMalformedKey
	}
	return &Credential{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// FromKeystore decrypts a go-ethereum JSON keystore file.
func FromKeystore(keyJSON []byte, password string) (*Credential, error) {
	k, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt keystore: %v", ErrMalformedKey, err)
	}
	return FromKey(k.PrivateKey)
}

// Address returns the account address of the credential.
func (c *Credential) Address() common.Address {
	return c.address
}

// Signer signs transactions for one chain with one key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewSigner binds the credential to a chain.
func (c *Credential) NewSigner(chainID *big.Int) (*Signer, error) {
	if c == nil || c.key == nil {
		return nil, ErrMissingCredential
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrNoChainID
	}
	return &Signer{
		key:     c.key,
		address: c.address,
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the signing address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTransaction signs tx.
func (s *Signer) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func sanitizeKeyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid length"):
		return "expected 32 bytes"
	case strings.Contains(msg, "invalid hex"), strings.Contains(msg, "encoding/hex"):
		return "not hex encoded"
	case strings.Contains(msg, "invalid private key"):
		return "not a valid secp256k1 scalar"
	default:
		return "unparseable"
	}
}
