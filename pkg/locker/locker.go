// Package locker decodes deposits recorded by the upstream migration locker
// contract into lock records the whitelist is aggregated from.
package locker

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// LockerABI is the subset of the locker contract ABI this package consumes.
// The indexed id is the epoch a deposit belongs to.
const LockerABI = `[{
	"anonymous": false,
	"type": "event",
	"name": "Locked",
	"inputs": [
		{"indexed": false, "internalType": "address", "name": "recipient", "type": "address"},
		{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
		{"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"}
	]
}]`

const lockedEventName = "Locked"

var (
	// ErrNotLockedEvent is returned for logs that are not a Locked event.
	ErrNotLockedEvent = errors.New("log is not a Locked event")

	// ErrWrongContract is returned for logs emitted by another contract.
	ErrWrongContract = errors.New("log was not emitted by the locker contract")

	// ErrRemovedLog is returned for logs dropped by a chain reorganisation.
	ErrRemovedLog = errors.New("log was removed by a reorg")
)

var (
	parsedABI     abi.ABI
	parsedABIErr  error
	parsedABIOnce sync.Once
)

func lockerABI() (abi.ABI, error) {
	parsedABIOnce.Do(func() {
		parsedABI, parsedABIErr = abi.JSON(strings.NewReader(LockerABI))
	})
	return parsedABI, parsedABIErr
}

// LockedEventID returns topic 0 of the Locked event.
func LockedEventID() common.Hash {
	parsed, err := lockerABI()
	if err != nil {
		return common.Hash{}
	}
	return parsed.Events[lockedEventName].ID
}

// lockedData holds the non-indexed Locked arguments.
type lockedData struct {
	Recipient common.Address
	Amount    *big.Int
}

// Decoder turns locker logs into lock records.
type Decoder struct {
	contract common.Address
	abi      abi.ABI
	eventID  common.Hash
}

// NewDecoder returns a decoder that accepts logs from contract. A zero
// contract address accepts logs from any emitter.
func NewDecoder(contract common.Address) (*Decoder, error) {
	parsed, err := lockerABI()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse locker ABI")
	}
	return &Decoder{
		contract: contract,
		abi:      parsed,
		eventID:  parsed.Events[lockedEventName].ID,
	}, nil
}

// EventID returns a stable identifier for a log: "<tx hash>:<log index>".
func EventID(log *ethTypes.Log) string {
	return fmt.Sprintf("%s:%d", log.TxHash.Hex(), log.Index)
}

// DecodeLog decodes a single Locked log.
func (d *Decoder) DecodeLog(log *ethTypes.Log) (*types.LockRecord, error) {
	if log == nil {
		return nil, ErrNotLockedEvent
	}
	if log.Removed {
		return nil, ErrRemovedLog
	}
	if d.contract != (common.Address{}) && log.Address != d.contract {
		return nil, errors.Wrapf(ErrWrongContract, "emitter %s", log.Address.Hex())
	}
	if len(log.Topics) != 2 || log.Topics[0] != d.eventID {
		return nil, ErrNotLockedEvent
	}

	var data lockedData
	if err := d.abi.UnpackIntoInterface(&data, lockedEventName, log.Data); err != nil {
		return nil, errors.Wrapf(err, "failed to unpack Locked event in tx %s", log.TxHash.Hex())
	}

	amount, overflow := uint256.FromBig(data.Amount)
	if overflow {
		return nil, fmt.Errorf("locked amount overflows uint256 in tx %s", log.TxHash.Hex())
	}

	return &types.LockRecord{
		Recipient: data.Recipient,
		Amount:    amount,
		Epoch:     new(uint256.Int).SetBytes32(log.Topics[1][:]),
		EventID:   EventID(log),
	}, nil
}

// DecodeLogs decodes every Locked log in logs. Logs that are not Locked
// events, or that were removed by a reorg, are skipped; any other decoding
// failure aborts.
func (d *Decoder) DecodeLogs(logs []*ethTypes.Log) ([]*types.LockRecord, error) {
	records := make([]*types.LockRecord, 0, len(logs))
	for _, log := range logs {
		rec, err := d.DecodeLog(log)
		if errors.Is(err, ErrNotLockedEvent) || errors.Is(err, ErrRemovedLog) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// EncodeLocked builds the log a locker emits for a deposit. It is the inverse
// of DecodeLog and is used to produce fixtures and replay exported events.
func EncodeLocked(contract common.Address, rec *types.LockRecord, txHash common.Hash, index uint) (*ethTypes.Log, error) {
	parsed, err := lockerABI()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse locker ABI")
	}
	event := parsed.Events[lockedEventName]
	data, err := event.Inputs.NonIndexed().Pack(rec.Recipient, rec.Amount.ToBig())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack Locked event for %s", rec.Recipient.Hex())
	}
	return &ethTypes.Log{
		Address: contract,
		Topics:  []common.Hash{event.ID, common.Hash(rec.Epoch.Bytes32())},
		Data:    data,
		TxHash:  txHash,
		Index:   index,
	}, nil
}
