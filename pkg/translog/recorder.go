package translog

import "github.com/meridiandb/coresync/pkg/keys"

// Recorder accumulates the instructions a write transaction issues, for
// persistence alongside the commit and later replay against notifiers.
type Recorder struct {
	entries []Instruction
}

func (r *Recorder) SelectTable(t keys.TableKey) {
	r.entries = append(r.entries, Instruction{Kind: SelectTable, Table: t})
}

func (r *Recorder) SelectList(col keys.ColKey, obj keys.ObjKey) {
	r.entries = append(r.entries, Instruction{Kind: SelectList, Col: col, Obj: obj})
}

func (r *Recorder) CreateObject(obj keys.ObjKey) {
	r.entries = append(r.entries, Instruction{Kind: CreateObject, Obj: obj})
}

func (r *Recorder) RemoveObject(obj keys.ObjKey) {
	r.entries = append(r.entries, Instruction{Kind: RemoveObject, Obj: obj})
}

func (r *Recorder) ModifyObject(col keys.ColKey, obj keys.ObjKey) {
	r.entries = append(r.entries, Instruction{Kind: ModifyObject, Col: col, Obj: obj})
}

func (r *Recorder) ListSet(i int) { r.entries = append(r.entries, Instruction{Kind: ListSet, Index: i}) }

func (r *Recorder) ListInsert(i int) {
	r.entries = append(r.entries, Instruction{Kind: ListInsert, Index: i})
}

func (r *Recorder) ListErase(i int) {
	r.entries = append(r.entries, Instruction{Kind: ListErase, Index: i})
}

func (r *Recorder) ListClear(n int) {
	r.entries = append(r.entries, Instruction{Kind: ListClear, Index: n})
}

func (r *Recorder) ListMove(from, to int) {
	r.entries = append(r.entries, Instruction{Kind: ListMove, Index: from, Index2: to})
}

func (r *Recorder) ListSwap(a, b int) {
	r.entries = append(r.entries, Instruction{Kind: ListSwap, Index: a, Index2: b})
}

func (r *Recorder) InsertColumn(col keys.ColKey) {
	r.entries = append(r.entries, Instruction{Kind: InsertColumn, Col: col})
}

func (r *Recorder) InsertGroupLevelTable(t keys.TableKey) {
	r.entries = append(r.entries, Instruction{Kind: InsertGroupLevelTable, Table: t})
}

func (r *Recorder) EraseColumn(col keys.ColKey) {
	r.entries = append(r.entries, Instruction{Kind: EraseColumn, Col: col})
}

func (r *Recorder) RenameColumn(col keys.ColKey) {
	r.entries = append(r.entries, Instruction{Kind: RenameColumn, Col: col})
}

func (r *Recorder) EraseGroupLevelTable(t keys.TableKey) {
	r.entries = append(r.entries, Instruction{Kind: EraseGroupLevelTable, Table: t})
}

func (r *Recorder) RenameGroupLevelTable(t keys.TableKey) {
	r.entries = append(r.entries, Instruction{Kind: RenameGroupLevelTable, Table: t})
}

// Entries returns the accumulated log in issue order.
func (r *Recorder) Entries() []Instruction { return r.entries }

// Reset clears the recorder for reuse across transactions.
func (r *Recorder) Reset() { r.entries = r.entries[:0] }
