// Command ledgerctl inspects a LevelDB ledger offline. The API server holds
// the store lock, so stop it first.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/council-ai/backend/internal/ledger"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  verify   recompute every hash and link, exit 1 on the first break
  export   write sealed entries as JSON
  stats    summarise entry kinds and record counts
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	os.Exit(run(os.Args[1], os.Args[2:], os.Stdout, os.Stderr))
}

func run(command string, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	path := flags.StringP("path", "p", "./data/ledger", "ledger LevelDB directory")
	from := flags.Int64("from", 0, "first entry index to export")
	out := flags.StringP("out", "o", "", "export destination, stdout when empty")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	entries, err := load(*path)
	if err != nil {
		fmt.Fprintf(stderr, "ledgerctl: %v\n", err)
		return 1
	}

	switch command {
	case "verify":
		return verify(entries, stdout)
	case "export":
		return export(entries, *from, *out, stdout, stderr)
	case "stats":
		return writeJSON(stdout, summarize(entries))
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func load(path string) ([]ledger.Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ledger not found: %w", err)
	}
	store, err := ledger.OpenLevelDB(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	entries, err := store.Load()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("ledger at %s is empty", path)
	}
	return entries, nil
}

func difficultyOf(entries []ledger.Entry) int {
	if g := entries[0].Payload.Genesis; g != nil {
		return g.Difficulty
	}
	return ledger.DefaultDifficulty
}

func verify(entries []ledger.Entry, stdout io.Writer) int {
	report := ledger.ValidateEntries(entries, difficultyOf(entries))
	if code := writeJSON(stdout, report); code != 0 {
		return code
	}
	if !report.Valid {
		return 1
	}
	return 0
}

func export(entries []ledger.Entry, from int64, out string, stdout, stderr io.Writer) int {
	if from < 0 {
		fmt.Fprintln(stderr, "ledgerctl: --from must be non-negative")
		return 2
	}
	if from >= int64(len(entries)) {
		entries = nil
	} else {
		entries = entries[from:]
	}

	w := stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			fmt.Fprintf(stderr, "ledgerctl: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return writeJSON(w, entries)
}

type summary struct {
	Entries       int            `json:"entries"`
	Difficulty    int            `json:"difficulty"`
	ByKind        map[string]int `json:"by_kind"`
	Verifications int            `json:"verifications"`
	Feedback      int            `json:"feedback"`
	Decisions     map[string]int `json:"decisions"`
	TipIndex      int64          `json:"tip_index"`
	TipHash       string         `json:"tip_hash"`
}

func summarize(entries []ledger.Entry) summary {
	s := summary{
		Entries:    len(entries),
		Difficulty: difficultyOf(entries),
		ByKind:     map[string]int{},
		Decisions:  map[string]int{},
		TipIndex:   entries[len(entries)-1].Index,
		TipHash:    entries[len(entries)-1].Hash,
	}
	for _, e := range entries {
		s.ByKind[string(e.Payload.Kind)]++
		for _, v := range e.Payload.Verifications {
			s.Verifications++
			s.Decisions[string(v.Decision)]++
		}
		if e.Payload.Feedback != nil {
			s.Feedback++
		}
	}
	return s
}

func writeJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		return 1
	}
	return 0
}
