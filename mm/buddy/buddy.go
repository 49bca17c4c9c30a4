// Package buddy implements a buddy-system physical page allocator over a
// caller-supplied byte arena. Descriptors are addressed by index into the
// arena rather than individually heap-allocated, the same offset-addressing
// technique the rest of this module's allocators use for their free lists.
package buddy

import (
	"fmt"
	"log"
	"unsafe"
)

// MaxOrder bounds the largest block this allocator will ever hand out:
// 2^(MaxOrder-1) pages.
const MaxOrder = 14

// PageSize is the size, in bytes, each order-0 block represents. It does
// not affect the allocator's bookkeeping, which works entirely in page
// units; it only scales TotalSpace/FreeSpace into bytes for diagnostics.
const PageSize = 4096

const (
	flagFree uint8 = 1 << iota
	flagRoot
)

// PageDescriptor is the per-page bookkeeping record. One exists for every
// page frame the Instance was initialised with, embedded in the caller's
// arena at a fixed stride, never individually allocated.
//
// CacheNext and CachePrev are reserved for mm/pagecache's single-page cache;
// the buddy allocator itself never reads them, and only resets them to zero
// when it rewrites a whole descriptor (in New and when splitting a block).
// They are disjoint
// in time from the free-area siblings link below: a descriptor is linked
// into at most one of the two lists at once.
type PageDescriptor struct {
	Flags uint8
	Order uint8

	CacheNext int32
	CachePrev int32

	siblingsNext int32
	siblingsPrev int32
}

type freeArea struct {
	head   int32
	nrFree uint32
}

// Instance is one buddy zone: a set of pages addressed over an arena,
// organised into free lists per order. It is not safe for concurrent use;
// callers serialize access exactly as they would around any other
// single-threaded allocator in this module.
type Instance struct {
	name   string
	base   unsafe.Pointer
	stride uintptr
	size   uint32

	free [MaxOrder]freeArea
}

// New creates a buddy instance over count pages, described by descriptors
// placed descriptorOffset bytes into arena and spaced stride bytes apart.
// count must be a multiple of the largest block size (2^(MaxOrder-1)
// pages); this is a configuration mistake detectable before any shared
// state exists, so it is reported as an error rather than a panic.
func New(name string, arena []byte, descriptorOffset, stride uintptr, count uint32) (*Instance, error) {
	const rootBlock = uint32(1) << (MaxOrder - 1)

	if count == 0 || count%rootBlock != 0 {
		return nil, fmt.Errorf("buddy: page count %d must be a nonzero multiple of %d", count, rootBlock)
	}
	if len(arena) == 0 {
		return nil, fmt.Errorf("buddy: empty arena")
	}
	need := descriptorOffset + stride*uintptr(count)
	if uintptr(len(arena)) < need {
		return nil, fmt.Errorf("buddy: arena too small: need %d bytes at offset %d, have %d", need-descriptorOffset, descriptorOffset, len(arena))
	}

	inst := &Instance{
		name:   name,
		base:   unsafe.Add(unsafe.Pointer(&arena[0]), descriptorOffset),
		stride: stride,
		size:   count,
	}
	for o := range inst.free {
		inst.free[o].head = -1
	}

	for i := uint32(0); i < count; i++ {
		*inst.descAt(i) = PageDescriptor{Flags: flagFree, siblingsNext: -1, siblingsPrev: -1}
	}

	for i := uint32(0); i < count; i += rootBlock {
		d := inst.descAt(i)
		*d = PageDescriptor{Flags: flagFree | flagRoot, Order: MaxOrder - 1}
		inst.pushFree(MaxOrder-1, i)
	}

	return inst, nil
}

func (inst *Instance) descAt(i uint32) *PageDescriptor {
	return (*PageDescriptor)(unsafe.Add(inst.base, inst.stride*uintptr(i)))
}

// DescAt returns the descriptor for page index i. Exposed so that
// collaborating packages (mm/pagecache) can thread their own intrusive
// lists through CacheNext/CachePrev without reaching into unsafe pointer
// arithmetic themselves.
func (inst *Instance) DescAt(i uint32) *PageDescriptor {
	if i >= inst.size {
		panic("buddy: index out of range")
	}
	return inst.descAt(i)
}

// IndexOf returns the page index of a descriptor previously returned by
// this instance. Panics if page does not belong to this instance's arena.
func (inst *Instance) IndexOf(page *PageDescriptor) uint32 {
	off := uintptr(unsafe.Pointer(page)) - uintptr(inst.base)
	idx := off / inst.stride
	if off%inst.stride != 0 || idx >= uintptr(inst.size) {
		panic("buddy: descriptor not in this instance")
	}
	return uint32(idx)
}

func (inst *Instance) pushFree(order int, idx uint32) {
	a := &inst.free[order]
	d := inst.descAt(idx)
	d.siblingsNext = int32(idx)
	d.siblingsPrev = int32(idx)
	if a.head == -1 {
		a.head = int32(idx)
	} else {
		headIdx := uint32(a.head)
		head := inst.descAt(headIdx)
		tailIdx := uint32(head.siblingsPrev)
		tail := inst.descAt(tailIdx)

		d.siblingsNext = int32(headIdx)
		d.siblingsPrev = int32(tailIdx)
		tail.siblingsNext = int32(idx)
		head.siblingsPrev = int32(idx)
	}
	a.nrFree++
}

func (inst *Instance) popFree(order int) (uint32, bool) {
	a := &inst.free[order]
	if a.head == -1 {
		return 0, false
	}
	idx := uint32(a.head)
	inst.unlinkFree(order, idx)
	return idx, true
}

func (inst *Instance) unlinkFree(order int, idx uint32) {
	a := &inst.free[order]
	d := inst.descAt(idx)

	if d.siblingsNext == int32(idx) {
		// only element
		a.head = -1
	} else {
		next := inst.descAt(uint32(d.siblingsNext))
		prev := inst.descAt(uint32(d.siblingsPrev))
		next.siblingsPrev = d.siblingsPrev
		prev.siblingsNext = d.siblingsNext
		if a.head == int32(idx) {
			a.head = d.siblingsNext
		}
	}
	d.siblingsNext = -1
	d.siblingsPrev = -1
	a.nrFree--
}

// AllocPages returns a descriptor heading a free block of 2^order pages,
// splitting a larger block if no exact match is free. Returns nil if the
// zone is exhausted at every order >= order.
func (inst *Instance) AllocPages(order int) *PageDescriptor {
	if order < 0 || order >= MaxOrder {
		panic("buddy: invalid order")
	}

	found := -1
	for o := order; o < MaxOrder; o++ {
		if inst.free[o].nrFree > 0 {
			found = o
			break
		}
	}
	if found == -1 {
		return nil
	}

	idx, _ := inst.popFree(found)
	for found > order {
		found--
		buddyIdx := idx + (uint32(1) << found)
		bd := inst.descAt(buddyIdx)
		*bd = PageDescriptor{Flags: flagFree | flagRoot, Order: uint8(found)}
		inst.pushFree(found, buddyIdx)
	}

	d := inst.descAt(idx)
	d.Flags = flagRoot
	d.Order = uint8(order)
	return d
}

// FreePages returns a block to the allocator, merging with its buddy
// repeatedly while the buddy is itself free and of the same order. Panics
// if page is not the root of a currently-allocated block: a double free
// or a corrupted descriptor, either way a fatal condition for the zone.
func (inst *Instance) FreePages(page *PageDescriptor) {
	if page.Flags&flagFree != 0 || page.Flags&flagRoot == 0 {
		panic("buddy: double free or invalid block")
	}

	idx := inst.IndexOf(page)
	order := int(page.Order)

	d := inst.descAt(idx)
	d.Flags = flagFree
	d.Order = uint8(order)

	for order < MaxOrder-1 {
		buddyIdx := idx ^ (uint32(1) << order)
		bd := inst.descAt(buddyIdx)
		if bd.Flags&flagFree == 0 || int(bd.Order) != order {
			break
		}
		inst.unlinkFree(order, buddyIdx)
		bd.Flags = flagFree
		bd.Order = 0

		if buddyIdx < idx {
			idx = buddyIdx
		}
		order++
		d = inst.descAt(idx)
		d.Order = uint8(order)
	}

	d.Flags = flagFree | flagRoot
	d.Order = uint8(order)
	inst.pushFree(order, idx)
}

// TotalSpace returns the zone's total capacity in bytes.
func (inst *Instance) TotalSpace() uint64 {
	return uint64(inst.size) * PageSize
}

// FreeSpace returns the zone's currently free capacity in bytes, summed
// across every order's free list.
func (inst *Instance) FreeSpace() uint64 {
	var total uint64
	for order, a := range inst.free {
		total += uint64(a.nrFree) * (uint64(1) << order) * PageSize
	}
	return total
}

// Dump logs the zone's name and per-order free counts for diagnostics.
func (inst *Instance) Dump() {
	log.Printf("[buddy] %s: total=%d free=%d", inst.name, inst.TotalSpace(), inst.FreeSpace())
	for order, a := range inst.free {
		if a.nrFree > 0 {
			log.Printf("[buddy] %s: order %2d: %d blocks free", inst.name, order, a.nrFree)
		}
	}
}
