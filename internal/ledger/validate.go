package ledger

import "fmt"

type ValidationReport struct {
	Valid       bool   `json:"valid"`
	Length      int    `json:"length"`
	FailedIndex int64  `json:"failed_index"`
	Reason      string `json:"reason,omitempty"`
}

func invalid(length int, index int64, format string, args ...any) ValidationReport {
	return ValidationReport{
		Length:      length,
		FailedIndex: index,
		Reason:      fmt.Sprintf(format, args...),
	}
}

// ValidateEntries walks a chain and stops at the first discrepancy. Entry 0
// is only checked for self-consistency; every later entry is checked for
// index continuity, hash recomputation, linkage and difficulty.
func ValidateEntries(entries []Entry, difficulty int) ValidationReport {
	n := len(entries)
	if n == 0 {
		return invalid(0, 0, "chain is empty")
	}

	genesis := &entries[0]
	if genesis.Index != 0 {
		return invalid(n, genesis.Index, "first entry has index %d", genesis.Index)
	}
	if genesis.Payload.Kind != KindGenesis {
		return invalid(n, 0, "first entry is %s, not genesis", genesis.Payload.Kind)
	}
	if genesis.PreviousHash != GenesisPreviousHash {
		return invalid(n, 0, "genesis previous hash is %q", genesis.PreviousHash)
	}
	if report, ok := checkSelf(n, genesis, difficulty); !ok {
		return report
	}

	for i := 1; i < n; i++ {
		prev, cur := &entries[i-1], &entries[i]
		if cur.Index != prev.Index+1 {
			return invalid(n, cur.Index, "index %d follows %d", cur.Index, prev.Index)
		}
		if report, ok := checkSelf(n, cur, difficulty); !ok {
			return report
		}
		if cur.PreviousHash != prev.Hash {
			return invalid(n, cur.Index, "previous hash does not match entry %d", prev.Index)
		}
	}

	return ValidationReport{Valid: true, Length: n, FailedIndex: -1}
}

func checkSelf(n int, e *Entry, difficulty int) (ValidationReport, bool) {
	hash, err := e.ComputeHash()
	if err != nil {
		return invalid(n, e.Index, "entry cannot be encoded: %v", err), false
	}
	if hash != e.Hash {
		return invalid(n, e.Index, "stored hash does not match contents"), false
	}
	if !MeetsDifficulty(e.Hash, difficulty) {
		return invalid(n, e.Index, "hash does not meet difficulty %d", difficulty), false
	}
	return ValidationReport{}, true
}
