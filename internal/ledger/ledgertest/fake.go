// Package ledgertest provides an in-memory ledger implementing the on-chain
// program's observable semantics: atomic deposit+insert, atomic
// check-and-record of nullifiers, and a bounded root history. Used by the
// manager tests and the end-to-end flow test.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"veilcore/internal/ledger"
)

// RootHistoryLen is how many recent roots a withdrawal may reference, mirroring
// the program's root ring buffer.
const RootHistoryLen = 4

// Fake is an in-memory Ledger.
type Fake struct {
	mu       sync.Mutex
	pools    map[uint64]*ledger.Pool
	trees    map[uint64]*ledger.Tree
	relayers []*ledger.Relayer
	leaves   map[uint64][]ledger.Hash
	roots    map[uint64][]ledger.Hash
	spent    map[ledger.Address]*ledger.Nullifier

	// SubmitErrs is a queue of injected failures, consumed one per
	// submission. SubmitErr, when set, fails every submission.
	SubmitErrs []error
	SubmitErr  error
	// ReadErr, when set, fails every read with it.
	ReadErr error
	// Submitted collects every accepted operation payload.
	Submitted [][]byte
}

// New builds an empty fake ledger.
func New() *Fake {
	return &Fake{
		pools:  make(map[uint64]*ledger.Pool),
		trees:  make(map[uint64]*ledger.Tree),
		leaves: make(map[uint64][]ledger.Hash),
		roots:  make(map[uint64][]ledger.Hash),
		spent:  make(map[ledger.Address]*ledger.Nullifier),
	}
}

// AddPool registers a pool account.
func (f *Fake) AddPool(p *ledger.Pool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[p.ID] = p
}

// AddTree registers a tree account and seeds its root history.
func (f *Fake) AddTree(t *ledger.Tree) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees[t.ID] = t
	f.roots[t.ID] = append(f.roots[t.ID], t.Root)
}

// AddRelayer registers a relayer account.
func (f *Fake) AddRelayer(r *ledger.Relayer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relayers = append(f.relayers, r)
}

// AdvanceRoot simulates another depositor inserting a leaf, moving the tree
// root forward. Returns the new root.
func (f *Fake) AdvanceRoot(treeID uint64) ledger.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	var filler ledger.Hash
	filler[0] = byte(len(f.leaves[treeID]) + 1)
	return f.insertLeafLocked(f.trees[treeID], filler)
}

func (f *Fake) insertLeafLocked(t *ledger.Tree, leaf ledger.Hash) ledger.Hash {
	f.leaves[t.ID] = append(f.leaves[t.ID], leaf)
	var next ledger.Hash
	copy(next[:], crypto.Keccak256(t.Root[:], leaf[:]))
	t.Root = next
	t.LeafCount++
	history := append(f.roots[t.ID], next)
	if len(history) > RootHistoryLen {
		history = history[len(history)-RootHistoryLen:]
	}
	f.roots[t.ID] = history
	return next
}

// SubmitAndConfirm executes the operation against the in-memory state.
func (f *Fake) SubmitAndConfirm(ctx context.Context, op []byte) (ledger.Signature, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.SubmitErrs) > 0 {
		err := f.SubmitErrs[0]
		f.SubmitErrs = f.SubmitErrs[1:]
		return "", err
	}
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	if len(op) == 0 {
		return "", &ledger.ProgramError{Code: 0, Msg: "empty op"}
	}
	switch op[0] {
	case ledger.OpDeposit:
		return f.execDeposit(op)
	case ledger.OpWithdraw:
		return f.execWithdraw(op)
	}
	return "", &ledger.ProgramError{Code: 0, Msg: "unknown opcode"}
}

func (f *Fake) execDeposit(raw []byte) (ledger.Signature, error) {
	op, err := ledger.DecodeDepositOp(raw)
	if err != nil {
		return "", err
	}
	pool, ok := f.pools[op.PoolID]
	if !ok || pool.Denomination != op.Denomination {
		return "", &ledger.ProgramError{Code: ledger.CodeInvalidDenomination, Msg: "no such pool"}
	}
	if !pool.Active {
		return "", &ledger.ProgramError{Code: ledger.CodePoolInactive, Msg: "pool inactive"}
	}
	tree := f.trees[pool.TreeID]
	if tree == nil || tree.Full() {
		return "", &ledger.ProgramError{Code: ledger.CodeMerkleTreeFull, Msg: "tree full"}
	}
	f.insertLeafLocked(tree, op.Commitment)
	pool.TotalDeposits++
	f.Submitted = append(f.Submitted, raw)
	return f.signature(raw), nil
}

func (f *Fake) execWithdraw(raw []byte) (ledger.Signature, error) {
	op, err := ledger.DecodeWithdrawOp(raw)
	if err != nil {
		return "", err
	}
	pool, ok := f.pools[op.PoolID]
	if !ok {
		return "", &ledger.ProgramError{Code: ledger.CodeInvalidDenomination, Msg: "no such pool"}
	}
	if !pool.Active {
		return "", &ledger.ProgramError{Code: ledger.CodePoolInactive, Msg: "pool inactive"}
	}
	if !f.rootKnownLocked(pool.TreeID, op.Root) {
		return "", &ledger.ProgramError{Code: ledger.CodeInvalidMerkleRoot, Msg: "root not in history"}
	}
	maxFee := pool.Denomination * uint64(pool.MaxFeeBasisPoints) / 10000
	if op.Fee > maxFee {
		return "", &ledger.ProgramError{Code: ledger.CodeFeeTooHigh, Msg: "fee above pool cap"}
	}
	if pool.Denomination-op.Fee < pool.MinWithdrawal {
		return "", &ledger.ProgramError{Code: ledger.CodeWithdrawalAmountTooLow, Msg: "below minimum"}
	}
	addr := ledger.NullifierAddress(op.PoolID, op.NullifierHash)
	if _, used := f.spent[addr]; used {
		return "", &ledger.ProgramError{Code: ledger.CodeNullifierAlreadySpent, Msg: "double spend"}
	}
	f.spent[addr] = &ledger.Nullifier{
		PoolID:        op.PoolID,
		NullifierHash: op.NullifierHash,
		Spent:         true,
		SpentAt:       time.Now().Unix(),
	}
	pool.TotalWithdrawals++
	f.Submitted = append(f.Submitted, raw)
	return f.signature(raw), nil
}

func (f *Fake) rootKnownLocked(treeID uint64, root ledger.Hash) bool {
	for _, r := range f.roots[treeID] {
		if r == root {
			return true
		}
	}
	return false
}

func (f *Fake) signature(raw []byte) ledger.Signature {
	return ledger.Signature(ledger.Hash(sum32(raw)).Hex())
}

func sum32(b []byte) (h [32]byte) {
	copy(h[:], crypto.Keccak256(b))
	return
}

// ReadAccount serves pool, tree and nullifier accounts by derived address.
func (f *Fake) ReadAccount(ctx context.Context, addr ledger.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	for id, p := range f.pools {
		if ledger.PoolAddress(id) == addr {
			return ledger.EncodePool(p), nil
		}
	}
	for id, t := range f.trees {
		if ledger.TreeAddress(id) == addr {
			return ledger.EncodeTree(t), nil
		}
	}
	if n, ok := f.spent[addr]; ok {
		return ledger.EncodeNullifier(n), nil
	}
	return nil, ledger.ErrAccountNotFound
}

// ReadProgramAccounts serves filtered account listings.
func (f *Fake) ReadProgramAccounts(ctx context.Context, filter ledger.AccountFilter) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	var out [][]byte
	switch filter.Kind {
	case ledger.AccountPool:
		for _, p := range f.pools {
			out = append(out, ledger.EncodePool(p))
		}
	case ledger.AccountTree:
		for _, t := range f.trees {
			if filter.PoolID == 0 || t.PoolID == filter.PoolID {
				out = append(out, ledger.EncodeTree(t))
			}
		}
	case ledger.AccountRelayer:
		for _, r := range f.relayers {
			out = append(out, ledger.EncodeRelayer(r))
		}
	case ledger.AccountNullifier:
		for _, n := range f.spent {
			if filter.PoolID == 0 || n.PoolID == filter.PoolID {
				out = append(out, ledger.EncodeNullifier(n))
			}
		}
	}
	return out, nil
}

// ProveInclusion returns a synthetic proof against the current root. Sibling
// values are deterministic per commitment; the depth matches the tree.
func (f *Fake) ProveInclusion(ctx context.Context, commitment ledger.Hash) (*ledger.InclusionProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	for treeID, leaves := range f.leaves {
		for i, leaf := range leaves {
			if leaf == commitment {
				tree := f.trees[treeID]
				siblings := make([]ledger.Hash, tree.Depth)
				for lvl := range siblings {
					copy(siblings[lvl][:], crypto.Keccak256(commitment[:], []byte{byte(lvl)}))
				}
				return &ledger.InclusionProof{
					Root:      tree.Root,
					Siblings:  siblings,
					LeafIndex: uint64(i),
				}, nil
			}
		}
	}
	return nil, ledger.ErrAccountNotFound
}
