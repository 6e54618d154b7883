package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/pkg/errors"
)

// KeystoreProvisioner creates a ledger account per stakeholder and keeps its
// encrypted key in a local keystore directory.
type KeystoreProvisioner struct {
	ks         *keystore.KeyStore
	passphrase string
}

// NewKeystoreProvisioner opens dir as a keystore. scryptN and scryptP select
// the key derivation cost; keystore.StandardScryptN/P for production.
func NewKeystoreProvisioner(dir, passphrase string, scryptN, scryptP int) *KeystoreProvisioner {
	return &KeystoreProvisioner{
		ks:         keystore.NewKeyStore(dir, scryptN, scryptP),
		passphrase: passphrase,
	}
}

// NewAccount returns the hex address of a freshly generated account.
func (p *KeystoreProvisioner) NewAccount(_ context.Context) (string, error) {
	account, err := p.ks.NewAccount(p.passphrase)
	if err != nil {
		return "", errors.Wrap(err, "failed to create ledger account")
	}
	return account.Address.Hex(), nil
}

// HasAccount reports whether the keystore holds the key for address.
func (p *KeystoreProvisioner) HasAccount(address string) bool {
	addr, err := ParseAddress(address)
	if err != nil {
		return false
	}
	return p.ks.HasAddress(addr)
}
