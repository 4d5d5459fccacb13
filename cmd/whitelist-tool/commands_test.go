package main

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Layr-Labs/migration-release-go/pkg/locker"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
	"github.com/Layr-Labs/migration-release-go/pkg/whitelist"
)

func lockRecords() []*types.LockRecord {
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	return []*types.LockRecord{
		{Recipient: a, Amount: uint256.NewInt(100), Epoch: uint256.NewInt(1), EventID: "0x01:0"},
		{Recipient: b, Amount: uint256.NewInt(200), Epoch: uint256.NewInt(1), EventID: "0x01:1"},
		{Recipient: a, Amount: uint256.NewInt(50), Epoch: uint256.NewInt(2), EventID: "0x02:0"},
	}
}

// contractTotals stands in for the per-epoch totals read from the locker.
func contractTotals(t *testing.T) map[uint256.Int]*uint256.Int {
	t.Helper()
	tally := locker.NewTally()
	_, err := tally.RecordAll(lockRecords())
	require.NoError(t, err)
	return tally.Totals()
}

func TestAggregateCommand_RequiresTotals(t *testing.T) {
	app := &cli.App{Commands: []*cli.Command{aggregateCommand}}

	err := app.Run([]string{"whitelist-tool", "aggregate", "--logs", filepath.Join(t.TempDir(), "logs.json")})
	require.ErrorIs(t, err, errMissingTotals)
}

func TestBuildWhitelist_Reconciled(t *testing.T) {
	entries, commitment, err := buildWhitelist(lockRecords(), contractTotals(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.NotEqual(t, common.Hash{}, commitment.Root())
}

func TestBuildWhitelist_DetectsMissingEvent(t *testing.T) {
	records := lockRecords()[:2]

	_, _, err := buildWhitelist(records, contractTotals(t), zaptest.NewLogger(t))
	require.ErrorIs(t, err, whitelist.ErrReconciliationMismatch)
}

func TestBuildWhitelist_DetectsDoubleCountedEvent(t *testing.T) {
	records := lockRecords()
	// Same deposit seen again under a different log position
	records = append(records, &types.LockRecord{
		Recipient: records[1].Recipient,
		Amount:    records[1].Amount.Clone(),
		Epoch:     records[1].Epoch.Clone(),
		EventID:   "0x09:4",
	})

	_, _, err := buildWhitelist(records, contractTotals(t), zaptest.NewLogger(t))
	require.ErrorIs(t, err, whitelist.ErrReconciliationMismatch)
}

func TestBuildWhitelist_SkipReconcileWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	entries, commitment, err := buildWhitelist(lockRecords()[:2], nil, zap.New(core))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NotNil(t, commitment)

	warnings := logs.FilterMessage("Skipping reconciliation against locker totals").All()
	require.Len(t, warnings, 1)
}
