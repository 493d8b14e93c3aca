// Package ilist implements an intrusive doubly-linked list.
//
// The link fields live inside the listed objects: a type embeds a Node and
// describes where it sits with a Traits implementation. The list never
// allocates or frees memory and owns none of its elements; it only threads
// references through them. An element may be linked into at most one list at
// a time.
//
//	type conn struct {
//	    id   int
//	    link ilist.Node
//	}
//
//	type connTraits struct{}
//
//	func (connTraits) NodeOffset() uintptr { return unsafe.Offsetof(conn{}.link) }
//
//	var idle ilist.List[conn, connTraits]
//	idle.PushFront(c)
//
// Elements must not move while linked. This holds for memory that the
// garbage collector never relocates, which is every Go allocation and every
// region mapped from the OS.
package ilist

import (
	"iter"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/check"
)

// Node is the link field embedded in a listed object.
type Node struct {
	prev *Node
	next *Node
}

// Traits locates the embedded Node inside T. Implementations are normally
// empty structs so that the zero value is usable.
type Traits interface {
	// NodeOffset returns the byte offset of the Node field within T.
	NodeOffset() uintptr
}

// List is an intrusive list of T. The zero value is an empty list.
type List[T any, Tr Traits] struct {
	front *Node
	size  int
}

func nodeOffset[Tr Traits]() uintptr {
	var tr Tr
	return tr.NodeOffset()
}

func (l *List[T, Tr]) nodeOf(e *T) *Node {
	return (*Node)(unsafe.Add(unsafe.Pointer(e), nodeOffset[Tr]()))
}

func (l *List[T, Tr]) ownerOf(n *Node) *T {
	if n == nil {
		return nil
	}
	return (*T)(unsafe.Add(unsafe.Pointer(n), -int(nodeOffset[Tr]())))
}

// PushFront links e at the front of the list. e must not be linked into any
// list.
func (l *List[T, Tr]) PushFront(e *T) {
	n := l.nodeOf(e)
	n.prev = nil
	n.next = l.front

	if l.front != nil {
		l.front.prev = n
	}

	l.front = n
	l.size++
}

// PopFront unlinks the front element. Popping an empty list is a programming
// error and panics.
func (l *List[T, Tr]) PopFront() {
	check.That(l.front != nil, "ilist: PopFront on empty list")

	n := l.front
	l.front = n.next
	if l.front != nil {
		l.front.prev = nil
	}
	n.prev, n.next = nil, nil

	l.size--
}

// Erase unlinks e, which must currently be linked into l. Membership is not
// verified.
func (l *List[T, Tr]) Erase(e *T) {
	n := l.nodeOf(e)
	prev, next := n.prev, n.next

	if n == l.front {
		l.front = next
	}
	if prev != nil {
		prev.next = next
	}
	if next != nil {
		next.prev = prev
	}
	n.prev, n.next = nil, nil

	l.size--
}

// Front returns the front element, or nil if the list is empty.
func (l *List[T, Tr]) Front() *T { return l.ownerOf(l.front) }

// Next returns the element after e, or nil if e is the last one.
func (l *List[T, Tr]) Next(e *T) *T { return l.ownerOf(l.nodeOf(e).next) }

// Size returns the number of linked elements.
func (l *List[T, Tr]) Size() int { return l.size }

// Empty reports whether the list has no elements.
func (l *List[T, Tr]) Empty() bool { return l.size == 0 }

// All iterates the list front to back. The list must not be modified during
// iteration except by breaking out of the loop.
func (l *List[T, Tr]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for n := l.front; n != nil; n = n.next {
			if !yield(l.ownerOf(n)) {
				return
			}
		}
	}
}
