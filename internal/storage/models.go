package storage

import (
	"encoding/binary"
	"fmt"
)

const (
	// AccountKeySize is the length of an encoded Account key.
	AccountKeySize = 16
	// BalanceSize is the length of an encoded balance value.
	BalanceSize = 8
)

// Account identifies one subscription: an owner watching a validator.
type Account struct {
	OwnerID        uint64
	ValidatorIndex uint64
}

// NewAccount builds an Account.
func NewAccount(ownerID, validatorIndex uint64) Account {
	return Account{OwnerID: ownerID, ValidatorIndex: validatorIndex}
}

// Key encodes the account as little-endian owner id followed by little-endian validator index.
func (a Account) Key() []byte {
	key := make([]byte, AccountKeySize)
	binary.LittleEndian.PutUint64(key[:8], a.OwnerID)
	binary.LittleEndian.PutUint64(key[8:], a.ValidatorIndex)
	return key
}

func (a Account) String() string {
	return fmt.Sprintf("owner=%d validator=%d", a.OwnerID, a.ValidatorIndex)
}

// DecodeAccount is the inverse of Account.Key.
func DecodeAccount(key []byte) (Account, error) {
	if len(key) != AccountKeySize {
		return Account{}, fmt.Errorf("account key must be %d bytes, got %d", AccountKeySize, len(key))
	}
	return Account{
		OwnerID:        binary.LittleEndian.Uint64(key[:8]),
		ValidatorIndex: binary.LittleEndian.Uint64(key[8:]),
	}, nil
}

// EncodeBalance encodes a balance as 8 little-endian bytes.
func EncodeBalance(balance uint64) []byte {
	value := make([]byte, BalanceSize)
	binary.LittleEndian.PutUint64(value, balance)
	return value
}

// DecodeBalance is the inverse of EncodeBalance.
func DecodeBalance(value []byte) (uint64, error) {
	if len(value) != BalanceSize {
		return 0, fmt.Errorf("balance value must be %d bytes, got %d", BalanceSize, len(value))
	}
	return binary.LittleEndian.Uint64(value), nil
}

// WatchEntry is one persisted record: the last balance observed for an account.
type WatchEntry struct {
	Account Account
	Balance uint64
}
