// internal/chain/signer.go
package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func parseSigningKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid signing key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// AddressFromKey derives the wallet address controlled by a signing key.
func AddressFromKey(privateKeyHex string) (string, error) {
	_, addr, err := parseSigningKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
