package ledger

import (
	"encoding/binary"
	"fmt"
)

// Program account byte layouts.
//
// All fields are little-endian at fixed offsets; the offsets are a
// compatibility contract with the deployed program. They were reconstructed
// from the program's account definitions and are provisional pending
// validation against the deployed schema, so every offset lives in a named
// constant rather than inline arithmetic.

// Pool is the configuration and counters of one fixed-denomination pool.
// Exactly one pool exists per (denomination, token type).
type Pool struct {
	ID                uint64
	Denomination      uint64
	TokenType         string
	TreeID            uint64
	TotalDeposits     uint64
	TotalWithdrawals  uint64
	MaxFeeBasisPoints uint16
	Active            bool
	MinWithdrawal     uint64
}

const (
	poolOffID            = 0
	poolOffDenomination  = 8
	poolOffTokenType     = 16 // 8 bytes, ascii, zero padded
	poolOffTreeID        = 24
	poolOffDeposits      = 32
	poolOffWithdrawals   = 40
	poolOffMaxFeeBps     = 48
	poolOffActive        = 50
	poolOffMinWithdrawal = 51
	poolAccountLen       = 59
)

// DecodePool parses a pool account.
func DecodePool(data []byte) (*Pool, error) {
	if len(data) < poolAccountLen {
		return nil, fmt.Errorf("pool account too short: %d bytes", len(data))
	}
	p := &Pool{
		ID:                binary.LittleEndian.Uint64(data[poolOffID:]),
		Denomination:      binary.LittleEndian.Uint64(data[poolOffDenomination:]),
		TokenType:         trimZeros(data[poolOffTokenType : poolOffTokenType+8]),
		TreeID:            binary.LittleEndian.Uint64(data[poolOffTreeID:]),
		TotalDeposits:     binary.LittleEndian.Uint64(data[poolOffDeposits:]),
		TotalWithdrawals:  binary.LittleEndian.Uint64(data[poolOffWithdrawals:]),
		MaxFeeBasisPoints: binary.LittleEndian.Uint16(data[poolOffMaxFeeBps:]),
		Active:            data[poolOffActive] != 0,
		MinWithdrawal:     binary.LittleEndian.Uint64(data[poolOffMinWithdrawal:]),
	}
	return p, nil
}

// EncodePool serializes a pool account. The core never writes pool accounts;
// this exists for the fake ledger used in tests and for layout round-trips.
func EncodePool(p *Pool) []byte {
	data := make([]byte, poolAccountLen)
	binary.LittleEndian.PutUint64(data[poolOffID:], p.ID)
	binary.LittleEndian.PutUint64(data[poolOffDenomination:], p.Denomination)
	copy(data[poolOffTokenType:poolOffTokenType+8], p.TokenType)
	binary.LittleEndian.PutUint64(data[poolOffTreeID:], p.TreeID)
	binary.LittleEndian.PutUint64(data[poolOffDeposits:], p.TotalDeposits)
	binary.LittleEndian.PutUint64(data[poolOffWithdrawals:], p.TotalWithdrawals)
	binary.LittleEndian.PutUint16(data[poolOffMaxFeeBps:], p.MaxFeeBasisPoints)
	if p.Active {
		data[poolOffActive] = 1
	}
	binary.LittleEndian.PutUint64(data[poolOffMinWithdrawal:], p.MinWithdrawal)
	return data
}

// Tree is the state of one append-only merkle tree. Capacity is 2^Depth.
type Tree struct {
	ID        uint64
	Depth     uint8
	LeafCount uint64
	Root      Hash
	PoolID    uint64
}

const (
	treeOffID        = 0
	treeOffDepth     = 8
	treeOffLeafCount = 9
	treeOffRoot      = 17
	treeOffPoolID    = 49
	treeAccountLen   = 57

	// Depth bounds enforced by the program at tree creation.
	MinTreeDepth = 10
	MaxTreeDepth = 30
)

// Capacity is the maximum number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 { return 1 << t.Depth }

// Full reports whether the tree has no room for another leaf.
func (t *Tree) Full() bool { return t.LeafCount >= t.Capacity() }

// DecodeTree parses a merkle tree account.
func DecodeTree(data []byte) (*Tree, error) {
	if len(data) < treeAccountLen {
		return nil, fmt.Errorf("tree account too short: %d bytes", len(data))
	}
	t := &Tree{
		ID:        binary.LittleEndian.Uint64(data[treeOffID:]),
		Depth:     data[treeOffDepth],
		LeafCount: binary.LittleEndian.Uint64(data[treeOffLeafCount:]),
		PoolID:    binary.LittleEndian.Uint64(data[treeOffPoolID:]),
	}
	copy(t.Root[:], data[treeOffRoot:treeOffRoot+32])
	if t.Depth < MinTreeDepth || t.Depth > MaxTreeDepth {
		return nil, fmt.Errorf("tree %d: depth %d outside [%d,%d]", t.ID, t.Depth, MinTreeDepth, MaxTreeDepth)
	}
	return t, nil
}

// EncodeTree serializes a tree account (tests and tooling).
func EncodeTree(t *Tree) []byte {
	data := make([]byte, treeAccountLen)
	binary.LittleEndian.PutUint64(data[treeOffID:], t.ID)
	data[treeOffDepth] = t.Depth
	binary.LittleEndian.PutUint64(data[treeOffLeafCount:], t.LeafCount)
	copy(data[treeOffRoot:], t.Root[:])
	binary.LittleEndian.PutUint64(data[treeOffPoolID:], t.PoolID)
	return data
}

// Nullifier is the record whose existence marks a note as spent.
type Nullifier struct {
	PoolID        uint64
	NullifierHash Hash
	Spent         bool
	SpentAt       int64
}

const (
	nullOffPoolID       = 0
	nullOffHash         = 8
	nullOffSpent        = 40
	nullOffSpentAt      = 41
	nullifierAccountLen = 49
)

// DecodeNullifier parses a nullifier account.
func DecodeNullifier(data []byte) (*Nullifier, error) {
	if len(data) < nullifierAccountLen {
		return nil, fmt.Errorf("nullifier account too short: %d bytes", len(data))
	}
	n := &Nullifier{
		PoolID:  binary.LittleEndian.Uint64(data[nullOffPoolID:]),
		Spent:   data[nullOffSpent] != 0,
		SpentAt: int64(binary.LittleEndian.Uint64(data[nullOffSpentAt:])),
	}
	copy(n.NullifierHash[:], data[nullOffHash:nullOffHash+32])
	return n, nil
}

// EncodeNullifier serializes a nullifier account (tests and tooling).
func EncodeNullifier(n *Nullifier) []byte {
	data := make([]byte, nullifierAccountLen)
	binary.LittleEndian.PutUint64(data[nullOffPoolID:], n.PoolID)
	copy(data[nullOffHash:], n.NullifierHash[:])
	if n.Spent {
		data[nullOffSpent] = 1
	}
	binary.LittleEndian.PutUint64(data[nullOffSpentAt:], uint64(n.SpentAt))
	return data
}

// Relayer metric sentinels: the program writes these before a relayer has any
// history, and the selector substitutes pessimistic-but-usable defaults.
const (
	SuccessRateUnknown  uint16 = 0xFFFF
	ResponseTimeUnknown uint32 = 0xFFFFFFFF
)

// Relayer is the on-chain record of a registered relayer.
type Relayer struct {
	Address        Address
	Active         bool
	FeeBasisPoints uint16
	TotalVolume    uint64
	TotalFees      uint64
	SuccessRateBps uint16 // 0..10000, SuccessRateUnknown when unmeasured
	AvgResponseMs  uint32 // ResponseTimeUnknown when unmeasured
}

const (
	relOffAddress     = 0
	relOffActive      = 32
	relOffFeeBps      = 33
	relOffTotalVolume = 35
	relOffTotalFees   = 43
	relOffSuccessBps  = 51
	relOffResponseMs  = 53
	relayerAccountLen = 57
)

// DecodeRelayer parses a relayer account.
func DecodeRelayer(data []byte) (*Relayer, error) {
	if len(data) < relayerAccountLen {
		return nil, fmt.Errorf("relayer account too short: %d bytes", len(data))
	}
	r := &Relayer{
		Active:         data[relOffActive] != 0,
		FeeBasisPoints: binary.LittleEndian.Uint16(data[relOffFeeBps:]),
		TotalVolume:    binary.LittleEndian.Uint64(data[relOffTotalVolume:]),
		TotalFees:      binary.LittleEndian.Uint64(data[relOffTotalFees:]),
		SuccessRateBps: binary.LittleEndian.Uint16(data[relOffSuccessBps:]),
		AvgResponseMs:  binary.LittleEndian.Uint32(data[relOffResponseMs:]),
	}
	copy(r.Address[:], data[relOffAddress:relOffAddress+32])
	return r, nil
}

// EncodeRelayer serializes a relayer account (tests and tooling).
func EncodeRelayer(r *Relayer) []byte {
	data := make([]byte, relayerAccountLen)
	copy(data[relOffAddress:], r.Address[:])
	if r.Active {
		data[relOffActive] = 1
	}
	binary.LittleEndian.PutUint16(data[relOffFeeBps:], r.FeeBasisPoints)
	binary.LittleEndian.PutUint64(data[relOffTotalVolume:], r.TotalVolume)
	binary.LittleEndian.PutUint64(data[relOffTotalFees:], r.TotalFees)
	binary.LittleEndian.PutUint16(data[relOffSuccessBps:], r.SuccessRateBps)
	binary.LittleEndian.PutUint32(data[relOffResponseMs:], r.AvgResponseMs)
	return data
}

func trimZeros(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
