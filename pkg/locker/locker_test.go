package locker

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
	"github.com/Layr-Labs/migration-release-go/pkg/whitelist"
)

var (
	lockerAddress = common.HexToAddress("0x5f4A632526a907003879dAd557dBdcf624EBe992")
	user1         = common.HexToAddress("0x1111111111111111111111111111111111111111")
	user2         = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func mustLog(t *testing.T, rec *types.LockRecord, tx byte, index uint) *ethTypes.Log {
	t.Helper()
	log, err := EncodeLocked(lockerAddress, rec, common.Hash{tx}, index)
	require.NoError(t, err)
	return log
}

func TestLockedEventID(t *testing.T) {
	expected := crypto.Keccak256Hash([]byte("Locked(address,uint256,uint256)"))
	assert.Equal(t, expected, LockedEventID())
}

func TestDecodeLog(t *testing.T) {
	decoder, err := NewDecoder(lockerAddress)
	require.NoError(t, err)

	amount := uint256.MustFromDecimal("100000000000000000000")
	log := mustLog(t, &types.LockRecord{Recipient: user1, Amount: amount, Epoch: uint256.NewInt(3)}, 0xaa, 7)

	rec, err := decoder.DecodeLog(log)
	require.NoError(t, err)
	assert.Equal(t, user1, rec.Recipient)
	assert.True(t, amount.Eq(rec.Amount))
	assert.Equal(t, uint64(3), rec.Epoch.Uint64())
	assert.Equal(t, common.Hash{0xaa}.Hex()+":7", rec.EventID)
}

func TestDecodeLog_Rejections(t *testing.T) {
	decoder, err := NewDecoder(lockerAddress)
	require.NoError(t, err)

	rec := &types.LockRecord{Recipient: user1, Amount: uint256.NewInt(1), Epoch: uint256.NewInt(1)}

	t.Run("Wrong contract", func(t *testing.T) {
		log := mustLog(t, rec, 1, 0)
		log.Address = user2
		_, err := decoder.DecodeLog(log)
		require.ErrorIs(t, err, ErrWrongContract)
	})

	t.Run("Other event", func(t *testing.T) {
		log := mustLog(t, rec, 1, 0)
		log.Topics[0] = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
		_, err := decoder.DecodeLog(log)
		require.ErrorIs(t, err, ErrNotLockedEvent)
	})

	t.Run("Missing indexed id", func(t *testing.T) {
		log := mustLog(t, rec, 1, 0)
		log.Topics = log.Topics[:1]
		_, err := decoder.DecodeLog(log)
		require.ErrorIs(t, err, ErrNotLockedEvent)
	})

	t.Run("Removed", func(t *testing.T) {
		log := mustLog(t, rec, 1, 0)
		log.Removed = true
		_, err := decoder.DecodeLog(log)
		require.ErrorIs(t, err, ErrRemovedLog)
	})

	t.Run("Truncated data", func(t *testing.T) {
		log := mustLog(t, rec, 1, 0)
		log.Data = log.Data[:40]
		_, err := decoder.DecodeLog(log)
		require.Error(t, err)
	})
}

func TestDecodeLogs_SkipsForeignLogs(t *testing.T) {
	decoder, err := NewDecoder(common.Address{})
	require.NoError(t, err)

	good := mustLog(t, &types.LockRecord{Recipient: user1, Amount: uint256.NewInt(5), Epoch: uint256.NewInt(1)}, 1, 0)
	removed := mustLog(t, &types.LockRecord{Recipient: user2, Amount: uint256.NewInt(6), Epoch: uint256.NewInt(1)}, 2, 0)
	removed.Removed = true
	foreign := &ethTypes.Log{Topics: []common.Hash{{0x01}}}

	records, err := decoder.DecodeLogs([]*ethTypes.Log{good, removed, foreign, nil})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, user1, records[0].Recipient)
}

func TestTally(t *testing.T) {
	tally := NewTally()

	records := []*types.LockRecord{
		{Recipient: user1, Amount: uint256.NewInt(100), Epoch: uint256.NewInt(1), EventID: "a"},
		{Recipient: user2, Amount: uint256.NewInt(200), Epoch: uint256.NewInt(1), EventID: "b"},
		{Recipient: user2, Amount: uint256.NewInt(200), Epoch: uint256.NewInt(1), EventID: "b"},
		{Recipient: user1, Amount: uint256.NewInt(7), Epoch: uint256.NewInt(2), EventID: "c"},
	}
	added, err := tally.RecordAll(records)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	totals := tally.Totals()
	require.Len(t, totals, 2)
	assert.Equal(t, uint64(300), totals[*uint256.NewInt(1)].Uint64())
	assert.Equal(t, uint64(7), totals[*uint256.NewInt(2)].Uint64())

	epochs := tally.Epochs()
	require.Len(t, epochs, 2)
	assert.Equal(t, uint64(1), epochs[0].Uint64())
	assert.Equal(t, uint64(2), epochs[1].Uint64())

	_, err = tally.Record(&types.LockRecord{Recipient: user1})
	require.Error(t, err)
}

func TestLogsToReconciledWhitelist(t *testing.T) {
	decoder, err := NewDecoder(lockerAddress)
	require.NoError(t, err)

	deposits := []*types.LockRecord{
		{Recipient: user1, Amount: uint256.NewInt(60), Epoch: uint256.NewInt(1)},
		{Recipient: user1, Amount: uint256.NewInt(40), Epoch: uint256.NewInt(1)},
		{Recipient: user2, Amount: uint256.NewInt(200), Epoch: uint256.NewInt(1)},
	}
	logs := make([]*ethTypes.Log, 0, len(deposits)+1)
	for i, d := range deposits {
		logs = append(logs, mustLog(t, d, byte(i+1), uint(i)))
	}
	// redelivered
	logs = append(logs, mustLog(t, deposits[2], 3, 2))

	records, err := decoder.DecodeLogs(logs)
	require.NoError(t, err)
	require.Len(t, records, 4)

	tally := NewTally()
	_, err = tally.RecordAll(records)
	require.NoError(t, err)

	entries, err := whitelist.Aggregate(records)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	commitment, err := whitelist.CommitReconciled(entries, tally.Totals())
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, commitment.Root())
}
