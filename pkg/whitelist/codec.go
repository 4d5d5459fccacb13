package whitelist

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// FileEntry is the on-disk form of one whitelist entry. Amount and epoch are
// decimal strings so 256-bit values survive JSON tooling.
type FileEntry struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Epoch   string `json:"epoch,omitempty"`

	// ID is the locker's name for the epoch in older whitelist files.
	ID string `json:"id,omitempty"`
}

// ToEntry parses a file entry.
func (f *FileEntry) ToEntry() (*types.ClaimEntry, error) {
	if !common.IsHexAddress(f.Address) {
		return nil, fmt.Errorf("invalid address %q", f.Address)
	}
	amount, err := uint256.FromDecimal(f.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for %s: %w", f.Amount, f.Address, err)
	}

	epochStr := f.Epoch
	if epochStr == "" {
		epochStr = f.ID
	}
	if epochStr == "" {
		return nil, fmt.Errorf("missing epoch for %s", f.Address)
	}
	epoch, err := uint256.FromDecimal(epochStr)
	if err != nil {
		return nil, fmt.Errorf("invalid epoch %q for %s: %w", epochStr, f.Address, err)
	}

	return &types.ClaimEntry{
		Recipient: common.HexToAddress(f.Address),
		Amount:    amount,
		Epoch:     epoch,
	}, nil
}

// NewFileEntry formats an entry for writing.
func NewFileEntry(entry *types.ClaimEntry) FileEntry {
	return FileEntry{
		Address: entry.Recipient.Hex(),
		Amount:  entry.Amount.Dec(),
		Epoch:   entry.Epoch.Dec(),
	}
}

// Decode reads a whitelist file. Entry order is preserved.
func Decode(r io.Reader) ([]*types.ClaimEntry, error) {
	var raw []FileEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist: %w", err)
	}

	entries := make([]*types.ClaimEntry, len(raw))
	for i := range raw {
		entry, err := raw[i].ToEntry()
		if err != nil {
			return nil, fmt.Errorf("whitelist entry %d: %w", i, err)
		}
		entries[i] = entry
	}
	return entries, nil
}

// Encode writes entries as an indented whitelist file.
func Encode(w io.Writer, entries []*types.ClaimEntry) error {
	raw := make([]FileEntry, len(entries))
	for i, entry := range entries {
		raw[i] = NewFileEntry(entry)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
