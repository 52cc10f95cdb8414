package note

import (
	"fmt"
	"strconv"
	"strings"

	"veilcore/internal/ledger"
	"veilcore/internal/veilerr"
)

// Note string format.
//
// Delimited fields in fixed order; the order and delimiter are a
// compatibility contract with every wallet that ever printed a note:
//
//	v1: veil-v1-<poolID>-<token>-<denomination>-<secret hex>-<preimage hex>-<unix ts>
//	v2: v1 fields, plus an optional trailing <recipient hex> when the note is
//	    recipient-bound
//
// Older versions remain parseable forever; new notes are written at the
// current version.
const (
	notePrefix     = "veil"
	noteDelimiter  = "-"
	CurrentVersion = 2
)

// Encode serializes a note at its version (CurrentVersion when unset).
func Encode(n *DepositNote) (string, error) {
	version := n.Version
	if version == 0 {
		version = CurrentVersion
	}
	if version < 1 || version > CurrentVersion {
		return "", fmt.Errorf("cannot encode note version %d", version)
	}
	if n.TokenType == "" || strings.Contains(n.TokenType, noteDelimiter) {
		return "", fmt.Errorf("token type %q is not encodable", n.TokenType)
	}
	if version == 1 && n.HasRecipient() {
		return "", fmt.Errorf("v1 notes cannot carry a recipient")
	}
	fields := []string{
		notePrefix,
		fmt.Sprintf("v%d", version),
		strconv.FormatUint(n.PoolID, 10),
		n.TokenType,
		strconv.FormatUint(n.Denomination, 10),
		n.Secret.Hex(),
		n.NullifierPreimage.Hex(),
		strconv.FormatInt(n.Timestamp, 10),
	}
	if version >= 2 && n.HasRecipient() {
		fields = append(fields, n.Recipient.Hex())
	}
	return strings.Join(fields, noteDelimiter), nil
}

// Decode parses a note string of any supported version. Every malformed
// input fails with InvalidNoteFormat before any further processing.
func Decode(s string) (*DepositNote, error) {
	fields := strings.Split(strings.TrimSpace(s), noteDelimiter)
	if len(fields) < 8 || fields[0] != notePrefix {
		return nil, veilerr.E(veilerr.KindInvalidNoteFormat, "not a veil note")
	}
	version, err := parseVersion(fields[1])
	if err != nil {
		return nil, err
	}

	wantMin, wantMax := 8, 8
	if version >= 2 {
		wantMax = 9
	}
	if len(fields) < wantMin || len(fields) > wantMax {
		return nil, veilerr.E(veilerr.KindInvalidNoteFormat,
			fmt.Sprintf("v%d note has %d fields", version, len(fields)))
	}

	n := &DepositNote{Version: version}
	if n.PoolID, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return nil, badField("pool id", err)
	}
	if fields[3] == "" {
		return nil, veilerr.E(veilerr.KindInvalidNoteFormat, "empty token type")
	}
	n.TokenType = fields[3]
	if n.Denomination, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
		return nil, badField("denomination", err)
	}
	if n.Denomination == 0 {
		return nil, veilerr.E(veilerr.KindInvalidNoteFormat, "zero denomination")
	}
	if n.Secret, err = ledger.ParseHash(fields[5]); err != nil {
		return nil, badField("secret", err)
	}
	if n.NullifierPreimage, err = ledger.ParseHash(fields[6]); err != nil {
		return nil, badField("nullifier preimage", err)
	}
	if n.Timestamp, err = strconv.ParseInt(fields[7], 10, 64); err != nil {
		return nil, badField("timestamp", err)
	}
	if len(fields) == 9 {
		if n.Recipient, err = ledger.ParseAddress(fields[8]); err != nil {
			return nil, badField("recipient", err)
		}
		if n.Recipient.IsZero() {
			return nil, veilerr.E(veilerr.KindInvalidNoteFormat, "explicit zero recipient")
		}
	}
	return n, nil
}

func parseVersion(s string) (int, error) {
	if !strings.HasPrefix(s, "v") {
		return 0, veilerr.E(veilerr.KindInvalidNoteFormat, "missing version tag")
	}
	v, err := strconv.Atoi(s[1:])
	if err != nil || v < 1 {
		return 0, veilerr.E(veilerr.KindInvalidNoteFormat, "unparseable version "+s)
	}
	if v > CurrentVersion {
		return 0, veilerr.E(veilerr.KindInvalidNoteFormat,
			fmt.Sprintf("unknown note version %d", v))
	}
	return v, nil
}

func badField(name string, err error) error {
	return veilerr.Wrap(veilerr.KindInvalidNoteFormat, err, "bad "+name)
}
