package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds one wallet's private key and produces transact options bound
// to the target chain.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key (with
// or without 0x prefix) and the target chain ID.
func NewSigner(privateKeyHex string, chainID *big.Int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}
	return &Signer{
		key:     pk,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID: chainID,
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// TransactOpts returns fresh EIP-155 transact options for this wallet. The
// caller may set Nonce and Value before submitting.
func (s *Signer) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("chain: transactor for %s: %w", s.address.Hex(), err)
	}
	opts.Context = ctx
	return opts, nil
}

// Keyring maps wallet addresses to their signers. It is populated once at
// wire time and read concurrently by the loops afterwards.
type Keyring struct {
	mu      sync.RWMutex
	signers map[common.Address]*Signer
}

// NewKeyring creates an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[common.Address]*Signer)}
}

// Add registers a signer under its derived address.
func (k *Keyring) Add(s *Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.address] = s
}

// Get returns the signer for the given address, if any.
func (k *Keyring) Get(addr common.Address) (*Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[addr]
	return s, ok
}

// Addresses returns all registered wallet addresses.
func (k *Keyring) Addresses() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, 0, len(k.signers))
	for addr := range k.signers {
		out = append(out, addr)
	}
	return out
}
