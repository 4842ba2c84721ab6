package main

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/translog"
	"github.com/meridiandb/coresync/pkg/txn"
)

// identityTransformer satisfies history.Transformer by handing the remote
// changeset through unmodified. A captured message log holds one client's
// traffic with no concurrent local writes to merge against, so there is
// nothing for the real OT algorithm to transform here.
type identityTransformer struct{}

func (identityTransformer) TransformRemoteChangeset(remote history.RemoteChangeset, _ []history.Entry) ([]byte, error) {
	return remote.Data, nil
}

// replayApplier satisfies history.Applier by decoding a changeset's payload
// as a recorded instruction log and driving it into a writing txn.Transaction
// via translog.Replay — the inverse direction of translog.Recorder, which
// only ever appends instructions, never applies them.
//
// The tables this module moves between clients are key-only (spec.md never
// models row/column values, only the structural changes to them), so every
// CreateObject/ModifyObject write carries an empty payload; what matters for
// replay is that the object exists and the instruction stream reproduces
// cleanly, not the bytes stored alongside it.
type replayApplier struct {
	tr    *txn.Transaction
	table keys.TableKey
	err   error
}

func (a *replayApplier) Apply(changeset []byte) error {
	if len(changeset) == 0 {
		return nil
	}
	var instrs []translog.Instruction
	if err := gob.NewDecoder(bytes.NewReader(changeset)).Decode(&instrs); err != nil {
		return fmt.Errorf("decode changeset instructions: %w", err)
	}
	a.err = nil
	if !translog.Replay(instrs, a) && a.err == nil {
		a.err = errors.New("replay aborted by applier")
	}
	return a.err
}

func (a *replayApplier) SelectTable(t keys.TableKey) bool {
	a.table = t
	return true
}

func (a *replayApplier) SelectList(keys.ColKey, keys.ObjKey) bool { return true }

func (a *replayApplier) CreateObject(obj keys.ObjKey) bool {
	if err := a.tr.CreateObject(a.table, obj, nil); err != nil {
		a.err = fmt.Errorf("create_object %s/%s: %w", a.table, obj, err)
		return false
	}
	return true
}

func (a *replayApplier) RemoveObject(obj keys.ObjKey) bool {
	if err := a.tr.RemoveObject(a.table, obj); err != nil {
		a.err = fmt.Errorf("remove_object %s/%s: %w", a.table, obj, err)
		return false
	}
	return true
}

func (a *replayApplier) ModifyObject(col keys.ColKey, obj keys.ObjKey) bool {
	if err := a.tr.ModifyObject(a.table, obj, col, nil); err != nil {
		a.err = fmt.Errorf("modify_object %s/%s: %w", a.table, obj, err)
		return false
	}
	return true
}

// List-level and schema-change instructions have no representation in the
// flat key-value object bucket boltengine exercises, so replay acknowledges
// them without effect rather than rejecting a log that legitimately
// contains them.
func (a *replayApplier) ListSet(int) bool                         { return true }
func (a *replayApplier) ListInsert(int) bool                       { return true }
func (a *replayApplier) ListErase(int) bool                        { return true }
func (a *replayApplier) ListClear(int) bool                        { return true }
func (a *replayApplier) ListMove(int, int) bool                    { return true }
func (a *replayApplier) ListSwap(int, int) bool                    { return true }
func (a *replayApplier) InsertColumn(keys.ColKey) bool             { return true }
func (a *replayApplier) InsertGroupLevelTable(keys.TableKey) bool  { return true }
func (a *replayApplier) EraseColumn(keys.ColKey) bool              { return true }
func (a *replayApplier) RenameColumn(keys.ColKey) bool             { return true }
func (a *replayApplier) EraseGroupLevelTable(keys.TableKey) bool   { return true }
func (a *replayApplier) RenameGroupLevelTable(keys.TableKey) bool  { return true }
func (a *replayApplier) ParseComplete() bool                       { return true }
