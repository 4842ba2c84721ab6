// Package translog defines the raw instruction stream a committed write
// transaction leaves behind — the thing the transaction-log observer
// (pkg/observer) is replayed over (spec.md §4.B).
package translog

import "github.com/meridiandb/coresync/pkg/keys"

// Kind identifies one instruction in the log.
type Kind uint8

const (
	SelectTable Kind = iota
	SelectList
	CreateObject
	RemoveObject
	ModifyObject
	ListSet
	ListInsert
	ListErase
	ListClear
	ListMove
	ListSwap
	InsertColumn
	InsertGroupLevelTable
	EraseColumn
	RenameColumn
	EraseGroupLevelTable
	RenameGroupLevelTable
)

// Instruction is one entry of the log a write transaction accumulates;
// Replay drives an observer.Observer hook-by-hook through a slice of them.
type Instruction struct {
	Kind  Kind
	Table keys.TableKey
	Col   keys.ColKey
	Obj   keys.ObjKey
	Index int // list_set/list_insert/list_erase/list_clear(n)/list_swap(a)
	Index2 int // list_move(to)/list_swap(b)
}

// Observer is the minimal hook surface translog.Replay drives. Satisfied by
// observer.Observer (the two are kept distinct so this package does not
// import pkg/observer and pkg/observer does not need to know about logs).
type Observer interface {
	SelectTable(t keys.TableKey) bool
	SelectList(col keys.ColKey, obj keys.ObjKey) bool
	CreateObject(obj keys.ObjKey) bool
	RemoveObject(obj keys.ObjKey) bool
	ModifyObject(col keys.ColKey, obj keys.ObjKey) bool
	ListSet(i int) bool
	ListInsert(i int) bool
	ListErase(i int) bool
	ListClear(n int) bool
	ListMove(from, to int) bool
	ListSwap(a, b int) bool
	InsertColumn(col keys.ColKey) bool
	InsertGroupLevelTable(t keys.TableKey) bool
	EraseColumn(col keys.ColKey) bool
	RenameColumn(col keys.ColKey) bool
	EraseGroupLevelTable(t keys.TableKey) bool
	RenameGroupLevelTable(t keys.TableKey) bool
	ParseComplete() bool
}

// Replay drives obs through every instruction in order, stopping as soon as
// a hook returns false (schema-change rejection or caller-requested abort).
func Replay(log []Instruction, obs Observer) bool {
	for _, in := range log {
		if !apply(in, obs) {
			return false
		}
	}
	return obs.ParseComplete()
}

func apply(in Instruction, obs Observer) bool {
	switch in.Kind {
	case SelectTable:
		return obs.SelectTable(in.Table)
	case SelectList:
		return obs.SelectList(in.Col, in.Obj)
	case CreateObject:
		return obs.CreateObject(in.Obj)
	case RemoveObject:
		return obs.RemoveObject(in.Obj)
	case ModifyObject:
		return obs.ModifyObject(in.Col, in.Obj)
	case ListSet:
		return obs.ListSet(in.Index)
	case ListInsert:
		return obs.ListInsert(in.Index)
	case ListErase:
		return obs.ListErase(in.Index)
	case ListClear:
		return obs.ListClear(in.Index)
	case ListMove:
		return obs.ListMove(in.Index, in.Index2)
	case ListSwap:
		return obs.ListSwap(in.Index, in.Index2)
	case InsertColumn:
		return obs.InsertColumn(in.Col)
	case InsertGroupLevelTable:
		return obs.InsertGroupLevelTable(in.Table)
	case EraseColumn:
		return obs.EraseColumn(in.Col)
	case RenameColumn:
		return obs.RenameColumn(in.Col)
	case EraseGroupLevelTable:
		return obs.EraseGroupLevelTable(in.Table)
	case RenameGroupLevelTable:
		return obs.RenameGroupLevelTable(in.Table)
	default:
		return true
	}
}
