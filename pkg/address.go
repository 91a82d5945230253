package pkg

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// AddressVersion prefixes every encoded pubkey hash.
const AddressVersion byte = 0x00

// EncodeAddress returns base58check(version || RIPEMD160(SHA256(pubKey))).
func EncodeAddress(pubKey []byte) string {
	return base58.CheckEncode(btcutil.Hash160(pubKey), AddressVersion)
}

// DecodeAddress verifies the checksum and version and returns the pubkey hash.
func DecodeAddress(address string) ([]byte, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if version != AddressVersion {
		return nil, fmt.Errorf("address %q has version 0x%02x", address, version)
	}
	if len(payload) != 20 {
		return nil, fmt.Errorf("address %q has a %d byte payload", address, len(payload))
	}
	return payload, nil
}
