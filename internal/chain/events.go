package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// savingsABI is the event/method surface of the savings contract. The field
// names are fixed by the deployed contract and must not drift.
const savingsABI = `[
	{"type":"event","name":"DepositMade","inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"WithdrawalMade","inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"GoalCreated","inputs":[{"name":"user","type":"address","indexed":true},{"name":"goalId","type":"uint256","indexed":true},{"name":"targetAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"GoalContribution","inputs":[{"name":"user","type":"address","indexed":true},{"name":"goalId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"GoalCompleted","inputs":[{"name":"user","type":"address","indexed":true},{"name":"goalId","type":"uint256","indexed":true}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

type EventType string

const (
	EventDeposit          EventType = "deposit"
	EventWithdrawal       EventType = "withdrawal"
	EventGoalCreated      EventType = "goal_created"
	EventGoalContribution EventType = "goal_contributed"
	EventGoalCompleted    EventType = "goal_completed"
)

// ErrUnknownEvent marks a log emitted by the contract that this backend does
// not consume; watchers skip it rather than fail.
var ErrUnknownEvent = errors.New("unknown contract event")

// Event is one decoded contract log. Amount is in the token's smallest unit
// and is nil for events that carry no amount.
type Event struct {
	Type        EventType
	User        common.Address
	Amount      *big.Int
	GoalID      *big.Int
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

// ExternalRef is the event's natural idempotence key: a transaction hash can
// carry several logs, so the log index disambiguates.
func (e Event) ExternalRef() string {
	return fmt.Sprintf("%s:%d", strings.ToLower(e.TxHash.Hex()), e.LogIndex)
}

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(savingsABI))
	if err != nil {
		panic(fmt.Sprintf("invalid savings contract ABI: %v", err))
	}
	return parsed
}

var contractABI = mustParseABI()

// ParseLog decodes a raw contract log into a tagged Event. Missing or
// malformed fields fail here, at the boundary, instead of propagating into
// balance math.
func ParseLog(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return Event{}, ErrUnknownEvent
	}
	event := Event{
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
	}
	switch log.Topics[0] {
	case contractABI.Events["DepositMade"].ID:
		event.Type = EventDeposit
	case contractABI.Events["WithdrawalMade"].ID:
		event.Type = EventWithdrawal
	case contractABI.Events["GoalCreated"].ID:
		event.Type = EventGoalCreated
	case contractABI.Events["GoalContribution"].ID:
		event.Type = EventGoalContribution
	case contractABI.Events["GoalCompleted"].ID:
		event.Type = EventGoalCompleted
	default:
		return Event{}, ErrUnknownEvent
	}
	if len(log.Topics) < 2 {
		return Event{}, fmt.Errorf("%s log missing user topic", event.Type)
	}
	event.User = common.BytesToAddress(log.Topics[1].Bytes())

	switch event.Type {
	case EventGoalCreated, EventGoalContribution, EventGoalCompleted:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("%s log missing goal id topic", event.Type)
		}
		event.GoalID = new(big.Int).SetBytes(log.Topics[2].Bytes())
	}

	switch event.Type {
	case EventDeposit, EventWithdrawal, EventGoalContribution:
		if len(log.Data) != 32 {
			return Event{}, fmt.Errorf("%s log has malformed amount data", event.Type)
		}
		event.Amount = new(big.Int).SetBytes(log.Data)
	case EventGoalCreated:
		if len(log.Data) != 32 {
			return Event{}, fmt.Errorf("%s log has malformed target data", event.Type)
		}
		event.Amount = new(big.Int).SetBytes(log.Data)
	}
	return event, nil
}
