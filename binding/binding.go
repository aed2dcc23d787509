// Package binding tracks named views onto a target's memory: an offset from
// the main image base, a length, protection flags and an optional pointer
// chain. Game tooling keeps one Set per attached process and polls the
// bindings it cares about.
package binding

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"memlink/accessor"
	"memlink/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	// ErrBindingUnsupported is returned for binding types without an implementation.
	ErrBindingUnsupported = errors.New("binding type unsupported")

	// ErrBindingNotPermitted is returned when the flags of a binding forbid the operation.
	ErrBindingNotPermitted = errors.New("binding operation not permitted")
)

// Type selects how a binding reaches the target's memory.
type Type int

const (
	// Direct copies memory on every access.
	Direct Type = iota

	// Mmap would share a mapping with the target.
	Mmap

	// Reverse would have the target signal changes through an injected hook.
	Reverse
)

func (t Type) String() string {
	switch t {
	case Direct:
		return "direct"
	case Mmap:
		return "mmap"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Flags are the operations a binding allows.
type Flags uint32

const (
	ProtRead Flags = 1 << iota
	ProtWrite
	ProtExec
)

func (f Flags) String() string {
	b := []byte("---")
	if f&ProtRead != 0 {
		b[0] = 'r'
	}
	if f&ProtWrite != 0 {
		b[1] = 'w'
	}
	if f&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Set holds the bindings of one attached process, keyed by offset.
type Set struct {
	acc *accessor.Accessor
	id  process.HandleID
	log *logger.Logger

	mu       sync.Mutex
	base     process.ProcessMemoryAddress
	hasBase  bool
	bindings map[process.ProcessMemorySize]*Binding
}

func NewSet(acc *accessor.Accessor, id process.HandleID) *Set {
	return &Set{
		acc:      acc,
		id:       id,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "bindings-"+id.String())),
		bindings: make(map[process.ProcessMemorySize]*Binding),
	}
}

// GetOrCreate returns the binding at offset, creating it if needed. An
// existing binding is returned as is; the other arguments are then ignored.
func (s *Set) GetOrCreate(offset process.ProcessMemorySize, typ Type, length process.ProcessMemorySize, flags Flags, chain ...process.ProcessMemorySize) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bindings[offset]; ok {
		return b, nil
	}

	if typ != Direct {
		return nil, fmt.Errorf("%w: %s", ErrBindingUnsupported, typ)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: zero length binding at %s", process.ErrInvalidArgument, offset.ToString())
	}

	b := &Binding{
		set:    s,
		Offset: offset,
		Type:   typ,
		Length: length,
		Flags:  flags,
		Chain:  append([]process.ProcessMemorySize(nil), chain...),
	}
	s.bindings[offset] = b
	s.log.Debugln("Created binding", b)
	return b, nil
}

// Get returns the binding at offset.
func (s *Set) Get(offset process.ProcessMemorySize) (*Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[offset]
	return b, ok
}

// Remove deletes the binding at offset and reports whether one existed.
func (s *Set) Remove(offset process.ProcessMemorySize) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[offset]
	if !ok {
		return false
	}
	b.removed = true
	delete(s.bindings, offset)
	return true
}

// Bindings returns all bindings ordered by offset.
func (s *Set) Bindings() []*Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Base returns the main image base of the target. It is looked up once.
func (s *Set) Base() (process.ProcessMemoryAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasBase {
		return s.base, nil
	}
	base, err := s.acc.BaseAddress(s.id)
	if err != nil {
		return 0, err
	}
	s.base, s.hasBase = base, true
	return base, nil
}

func (s *Set) removed(b *Binding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.removed
}

// Binding is a view of Length bytes at the image base plus Offset, or at the
// end of Chain when one is set.
type Binding struct {
	set *Set

	Offset process.ProcessMemorySize
	Type   Type
	Length process.ProcessMemorySize
	Flags  Flags
	Chain  []process.ProcessMemorySize

	// guarded by set.mu
	removed bool
}

func (b *Binding) String() string {
	return fmt.Sprintf("%s %s+%#x len=%#x chain=%v", b.Type, b.Flags, uint64(b.Offset), uint64(b.Length), b.Chain)
}

// Address resolves the current address of the binding.
func (b *Binding) Address() (process.ProcessMemoryAddress, error) {
	if b.set.removed(b) {
		return 0, fmt.Errorf("%w: binding at %s was removed", process.ErrInvalidArgument, b.Offset.ToString())
	}

	base, err := b.set.Base()
	if err != nil {
		return 0, err
	}

	addr := base + process.ProcessMemoryAddress(b.Offset)
	if addr < base {
		return 0, fmt.Errorf("%w: base %s + offset %#x overflows", process.ErrInvalidArgument, base.ToString(), uint64(b.Offset))
	}
	if len(b.Chain) == 0 {
		return addr, nil
	}
	return b.set.acc.ResolvePointerChain(b.set.id, addr, b.Chain...)
}

// Read returns the bytes of the binding. It requires ProtRead.
func (b *Binding) Read() ([]byte, error) {
	if b.Flags&ProtRead == 0 {
		return nil, fmt.Errorf("%w: read of %s", ErrBindingNotPermitted, b)
	}
	addr, err := b.Address()
	if err != nil {
		return nil, err
	}
	return b.set.acc.Read(b.set.id, addr, b.Length)
}

// Write stores data at the start of the binding. It requires ProtWrite and
// data must fit the binding.
func (b *Binding) Write(data []byte) (int, error) {
	if b.Flags&ProtWrite == 0 {
		return 0, fmt.Errorf("%w: write of %s", ErrBindingNotPermitted, b)
	}
	if process.ProcessMemorySize(len(data)) > b.Length {
		return 0, fmt.Errorf("%w: %d bytes exceed binding length %d", process.ErrInvalidArgument, len(data), b.Length)
	}
	addr, err := b.Address()
	if err != nil {
		return 0, err
	}
	return b.set.acc.Write(b.set.id, addr, data)
}

// Value reads the binding as a T. T must fit the binding.
func Value[T any](b *Binding) (T, error) {
	var t T
	if size := accessor.SizeOf[T](); size == 0 || size > b.Length {
		return t, fmt.Errorf("%w: value of %d bytes does not fit binding length %d", process.ErrInvalidArgument, size, b.Length)
	}

	data, err := b.Read()
	if err != nil {
		return t, err
	}
	return accessor.FromBytes[T](data), nil
}

// Store writes v at the start of the binding.
func Store[T any](b *Binding, v T) error {
	if size := accessor.SizeOf[T](); size == 0 || size > b.Length {
		return fmt.Errorf("%w: value of %d bytes does not fit binding length %d", process.ErrInvalidArgument, size, b.Length)
	}
	_, err := b.Write(accessor.ToBytes(v))
	return err
}
