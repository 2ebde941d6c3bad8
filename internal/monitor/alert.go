package monitor

import (
	"fmt"

	"github.com/lgaroche/stakemon/internal/storage"
)

// AlertKind distinguishes the adverse conditions a cycle detects.
type AlertKind string

const (
	// KindNotRewarded means the balance did not move since the previous cycle.
	KindNotRewarded AlertKind = "not_rewarded"
	// KindSlashed means the balance decreased.
	KindSlashed AlertKind = "slashed"
)

// AlertMessage describes what happened to a validator.
type AlertMessage struct {
	Kind           AlertKind
	ValidatorIndex uint64
	// Amount is the balance decrease, set for KindSlashed only.
	Amount uint64
}

// NotRewarded builds the message for an unchanged balance.
func NotRewarded(validatorIndex uint64) AlertMessage {
	return AlertMessage{Kind: KindNotRewarded, ValidatorIndex: validatorIndex}
}

// Slashed builds the message for a decreased balance.
func Slashed(validatorIndex, amount uint64) AlertMessage {
	return AlertMessage{Kind: KindSlashed, ValidatorIndex: validatorIndex, Amount: amount}
}

func (m AlertMessage) String() string {
	switch m.Kind {
	case KindNotRewarded:
		return fmt.Sprintf("Validator %d missed rewards", m.ValidatorIndex)
	case KindSlashed:
		return fmt.Sprintf("Validator %d was slashed %d nano-mGNO", m.ValidatorIndex, m.Amount)
	default:
		return fmt.Sprintf("Validator %d: %s", m.ValidatorIndex, m.Kind)
	}
}

// Alert is one observation produced by a cycle, addressed to the account owner.
type Alert struct {
	Account storage.Account
	Message AlertMessage
}
