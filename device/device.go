// Package device models the minimal device-access abstraction
// deviceprovider needs: a register catalogue for type inference and typed
// accessors for polled reads/writes (spec §4.3, supplemented feature 6 in
// SPEC_FULL.md). It generalises the parts of ChimeraTK::Device and
// OneDRegisterAccessor<T> the mediation layer actually touches, without
// pulling in a real fieldbus/hardware binding. Any type with Catalogue and
// Close satisfies Device, but OpenAccessor only hands out accessors for
// devices defined in this package (MemDevice, the in-memory one used for
// tests and demos); for any other Device it fails with UnsupportedOperation.
package device

import (
	"context"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
)

// Fundamental classifies a register's underlying representation, the same
// three-way split DataDescriptor::FundamentalType makes.
type Fundamental int

const (
	FundamentalUnknown Fundamental = iota
	FundamentalNumeric
	FundamentalBoolean
	FundamentalString
)

// RegisterInfo describes one addressable register in a catalogue, enough to
// drive getDefaultType's inference table.
type RegisterInfo struct {
	Name            string
	NumberOfElements int
	Fundamental     Fundamental
	Integral        bool
	Signed          bool
}

// Catalogue is the read-only register directory a Device exposes, mirroring
// Device::getRegisterCatalogue().
type Catalogue interface {
	HasRegister(name string) bool
	Register(name string) (RegisterInfo, bool)
}

// Accessor is a typed, polled handle to one register, mirroring
// OneDRegisterAccessor<T>: Read/Write perform blocking I/O against the
// backing device and must only be called from an I/O-pool worker (or
// synchronously, when the provider was configured with zero I/O threads).
type Accessor[T pvtype.Scalar] interface {
	NumberOfElements() int
	Readable() bool
	Writeable() bool

	// Read blocks performing the device I/O and returns the freshly read
	// elements. Must not be called concurrently with Write on the same
	// accessor.
	Read(ctx context.Context) ([]T, error)

	// Write blocks performing the device I/O to push values.
	Write(ctx context.Context, values []T) error
}

// Device is the subset of ChimeraTK::Device this module depends on: its
// catalogue and Close. Typed accessors are opened with the OpenAccessor
// function, whose type parameter plays the role of
// getOneDRegisterAccessor<T>'s template parameter; it relies on the
// unexported rawOpener interface, which only devices in this package
// implement.
type Device interface {
	Catalogue() Catalogue
	Close() error
}

// rawOpener is implemented by a Device that can hand out accessors. It
// returns the accessor type-erased as any because Go does not allow a
// method itself to carry a type parameter the way getOneDRegisterAccessor<T>
// does in the original; OpenAccessor below recovers the concrete Accessor[T]
// with a type assertion, the same role std::type_index dispatch plays in
// createPVSupportInternal<T>.
type rawOpener interface {
	openAccessor(name string) (any, error)
}

// OpenAccessor opens a typed accessor for name on dev. It fails with
// NoSuchVariable if dev has no register by that name, with TypeMismatch if
// the register's element type is not T, and with UnsupportedOperation if dev
// cannot hand out accessors at all.
func OpenAccessor[T pvtype.Scalar](dev Device, name string) (Accessor[T], error) {
	opener, ok := dev.(rawOpener)
	if !ok {
		return nil, pvsupport.New(pvsupport.UnsupportedOperation, name)
	}
	raw, err := opener.openAccessor(name)
	if err != nil {
		return nil, err
	}
	accessor, ok := raw.(Accessor[T])
	if !ok {
		return nil, pvsupport.New(pvsupport.TypeMismatch, name)
	}
	return accessor, nil
}

// DefaultElementType reproduces getDefaultType's inference table verbatim:
// integral+signed -> int32, integral+unsigned -> uint32, floating -> float64,
// boolean -> uint32, anything else -> Unknown.
func DefaultElementType(info RegisterInfo) pvtype.Element {
	switch info.Fundamental {
	case FundamentalNumeric:
		if info.Integral {
			if info.Signed {
				return pvtype.Int32
			}
			return pvtype.Uint32
		}
		return pvtype.Float64
	case FundamentalBoolean:
		return pvtype.Uint32
	default:
		return pvtype.Unknown
	}
}

// MemDevice is an in-memory Device used by tests and the cmd/pvhost demo in
// place of a real fieldbus binding: every register is backed by a plain
// slice guarded by a mutex, with no actual hardware I/O latency.
type MemDevice struct {
	catalogue *memCatalogue
	registers map[string]any // holds *memRegister[T] for whichever T it was declared with
}

// NewMemDevice creates an empty in-memory device. Add registers to it with
// AddRegister before opening any accessor.
func NewMemDevice() *MemDevice {
	return &MemDevice{
		catalogue: &memCatalogue{infos: make(map[string]RegisterInfo)},
		registers: make(map[string]any),
	}
}

func (d *MemDevice) Catalogue() Catalogue { return d.catalogue }
func (d *MemDevice) Close() error         { return nil }

// AddRegister declares a register of element type T with the given
// catalogue metadata and initial contents.
func AddRegister[T pvtype.Scalar](d *MemDevice, info RegisterInfo, readable, writeable bool, initial []T) {
	d.catalogue.infos[info.Name] = info
	d.registers[info.Name] = &memRegister[T]{
		mu:        make(chanMutex, 1),
		elements:  append([]T(nil), initial...),
		readable:  readable,
		writeable: writeable,
	}
}

type memCatalogue struct {
	infos map[string]RegisterInfo
}

func (c *memCatalogue) HasRegister(name string) bool {
	_, ok := c.infos[name]
	return ok
}

func (c *memCatalogue) Register(name string) (RegisterInfo, bool) {
	info, ok := c.infos[name]
	return info, ok
}

type memRegister[T pvtype.Scalar] struct {
	mu        chanMutex
	elements  []T
	readable  bool
	writeable bool
}

// chanMutex is a trivial channel-based mutex; memRegister uses it instead of
// sync.Mutex purely so Read/Write can respect ctx cancellation while
// acquiring it, matching Accessor's context-aware signature.
type chanMutex chan struct{}

func (m *chanMutex) lock(ctx context.Context) error {
	select {
	case *m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *chanMutex) unlock() { <-*m }

func (d *MemDevice) openAccessor(name string) (any, error) {
	r, ok := d.registers[name]
	if !ok {
		return nil, pvsupport.New(pvsupport.NoSuchVariable, name)
	}
	return r, nil
}

func (r *memRegister[T]) NumberOfElements() int { return len(r.elements) }
func (r *memRegister[T]) Readable() bool        { return r.readable }
func (r *memRegister[T]) Writeable() bool       { return r.writeable }

func (r *memRegister[T]) Read(ctx context.Context) ([]T, error) {
	if err := r.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer r.mu.unlock()
	return append([]T(nil), r.elements...), nil
}

func (r *memRegister[T]) Write(ctx context.Context, values []T) error {
	if err := r.mu.lock(ctx); err != nil {
		return err
	}
	defer r.mu.unlock()
	r.elements = append([]T(nil), values...)
	return nil
}
