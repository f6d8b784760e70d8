package state

import (
	"fmt"
	"sync"

	"github.com/dotlanth/dotvm/dotvmerr"
)

// RecoveryOutcome classifies how a recovery attempt finished.
type RecoveryOutcome uint8

const (
	RecoverySuccess RecoveryOutcome = iota
	RecoveryPartial
	RecoveryFailed
)

func (o RecoveryOutcome) String() string {
	switch o {
	case RecoverySuccess:
		return "Success"
	case RecoveryPartial:
		return "PartialSuccess"
	default:
		return "Failed"
	}
}

// RecoveryReport is the result notified to listeners after a recovery
// attempt: either clean, clean-with-warnings (a non-critical transaction
// failed to reapply), or failed (the checkpoint itself couldn't be
// rebuilt, or a critical transaction failed to reapply).
type RecoveryReport struct {
	Outcome  RecoveryOutcome
	Warnings []string
	Err      error
}

// PendingTransaction is replayed against the rebuilt trie during
// recovery. Critical transactions that fail to reapply abort recovery;
// non-critical failures are recorded as warnings and recovery continues.
type PendingTransaction struct {
	ID       string
	Critical bool
	Apply    func(*Trie) error
}

// CheckpointStore resolves a named or latest checkpoint to the snapshot
// it corresponds to.
type CheckpointStore interface {
	GetByID(checkpointID string) (*Snapshot, bool)
	LatestID() (string, bool)
}

// RecoveryManager rebuilds trie state from a checkpoint and replays any
// transactions registered since that checkpoint was taken, the
// versioned-state analogue of replaying a write-ahead log after restoring
// from a backup.
type RecoveryManager struct {
	mu         sync.Mutex
	storage    NodeStorage
	checkpoint CheckpointStore
	pending    []PendingTransaction
	listeners  []func(RecoveryReport)
}

func NewRecoveryManager(storage NodeStorage, checkpoints CheckpointStore) *RecoveryManager {
	return &RecoveryManager{storage: storage, checkpoint: checkpoints}
}

// RegisterTransaction adds a transaction to be reapplied on the next
// recovery. Order of registration is the order of replay.
func (m *RecoveryManager) RegisterTransaction(tx PendingTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, tx)
}

// AddListener registers a callback notified with the outcome of every
// recovery attempt.
func (m *RecoveryManager) AddListener(fn func(RecoveryReport)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// ClearPendingTransactions drops every transaction registered so far,
// typically called once they've all been durably applied elsewhere.
func (m *RecoveryManager) ClearPendingTransactions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

func (m *RecoveryManager) notify(report RecoveryReport) {
	m.mu.Lock()
	listeners := append([]func(RecoveryReport){}, m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(report)
	}
}

// RecoverFromCheckpoint rebuilds the trie recorded under checkpointID and
// reapplies every pending transaction in registration order.
func (m *RecoveryManager) RecoverFromCheckpoint(checkpointID string) (*Trie, RecoveryReport) {
	const op = "RecoveryManager.RecoverFromCheckpoint"

	snap, ok := m.checkpoint.GetByID(checkpointID)
	if !ok {
		report := RecoveryReport{Outcome: RecoveryFailed, Err: dotvmerr.New(dotvmerr.KindStateInconsistency, op, nil)}
		m.notify(report)
		return nil, report
	}

	tr, err := RebuildTrie(snap, m.storage)
	if err != nil {
		report := RecoveryReport{Outcome: RecoveryFailed, Err: err}
		m.notify(report)
		return nil, report
	}

	m.mu.Lock()
	pending := append([]PendingTransaction{}, m.pending...)
	m.mu.Unlock()

	var warnings []string
	for _, tx := range pending {
		if err := tx.Apply(tr); err != nil {
			if tx.Critical {
				report := RecoveryReport{
					Outcome: RecoveryFailed,
					Err:     dotvmerr.New(dotvmerr.KindStateInconsistency, op, err),
				}
				m.notify(report)
				return nil, report
			}
			warnings = append(warnings, fmt.Sprintf("non-critical transaction %q failed to reapply: %v", tx.ID, err))
		}
	}

	outcome := RecoverySuccess
	if len(warnings) > 0 {
		outcome = RecoveryPartial
	}
	report := RecoveryReport{Outcome: outcome, Warnings: warnings}
	m.notify(report)
	return tr, report
}

// RecoverFromLatestCheckpoint recovers from whichever checkpoint has the
// highest version, for a restart that doesn't know a specific ID to ask
// for.
func (m *RecoveryManager) RecoverFromLatestCheckpoint() (*Trie, RecoveryReport) {
	const op = "RecoveryManager.RecoverFromLatestCheckpoint"

	id, ok := m.checkpoint.LatestID()
	if !ok {
		report := RecoveryReport{Outcome: RecoveryFailed, Err: dotvmerr.New(dotvmerr.KindStateInconsistency, op, nil)}
		m.notify(report)
		return nil, report
	}
	return m.RecoverFromCheckpoint(id)
}
