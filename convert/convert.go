// Package convert wraps a PVSupport[O] so it can be used as a PVSupport[T]
// of a different element type, converting every value element-wise on the
// way in and out (spec §4.4's "a consumer may request a different element
// type than a variable's native one").
//
// Conversion has real overhead for large arrays, so — exactly as the
// original's doc comment warns — callers should prefer requesting a
// variable's native type and only reach for Wrap when a consumer truly
// cannot be changed to match it.
package convert

import (
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
)

// ToTarget converts one element from the original element type O to the
// target element type T. Callers supply it explicitly because Go generics
// have no static_cast equivalent that works across an arbitrary pair of
// Scalar type parameters.
type ToTarget[O, T pvtype.Scalar] func(O) T

// ToOriginal converts one element from the target element type T back to
// the original element type O, for Write.
type ToOriginal[O, T pvtype.Scalar] func(T) O

// Wrap adapts original, a PVSupport[O], into a PVSupport[T], converting
// every element of every value read, written or notified through toTarget
// and toOriginal.
func Wrap[O, T pvtype.Scalar](original pvsupport.PVSupport[O], toTarget ToTarget[O, T], toOriginal ToOriginal[O, T]) pvsupport.PVSupport[T] {
	return &converting[O, T]{original: original, toTarget: toTarget, toOriginal: toOriginal}
}

type converting[O, T pvtype.Scalar] struct {
	original   pvsupport.PVSupport[O]
	toTarget   ToTarget[O, T]
	toOriginal ToOriginal[O, T]
}

var _ pvsupport.PVSupport[int32] = (*converting[uint8, int32])(nil)

func (c *converting[O, T]) CanNotify() bool       { return c.original.CanNotify() }
func (c *converting[O, T]) CanRead() bool         { return c.original.CanRead() }
func (c *converting[O, T]) CanWrite() bool        { return c.original.CanWrite() }
func (c *converting[O, T]) NumberOfElements() int { return c.original.NumberOfElements() }
func (c *converting[O, T]) WillWrite()            { c.original.WillWrite() }

func (c *converting[O, T]) convertToTarget(value pvtype.Value[O]) pvtype.Value[T] {
	src := value.Elements()
	dst := make([]T, len(src))
	for i, v := range src {
		dst[i] = c.toTarget(v)
	}
	return pvtype.NewValue(dst)
}

func (c *converting[O, T]) convertToOriginal(value pvtype.Value[T]) pvtype.Value[O] {
	src := value.Elements()
	dst := make([]O, len(src))
	for i, v := range src {
		dst[i] = c.toOriginal(v)
	}
	return pvtype.NewValue(dst)
}

func (c *converting[O, T]) InitialValue() (pvtype.Value[T], pvtype.Version, error) {
	value, version, err := c.original.InitialValue()
	if err != nil {
		return pvtype.Value[T]{}, pvtype.Version{}, err
	}
	return c.convertToTarget(value), version, nil
}

func (c *converting[O, T]) Notify(onValue pvsupport.NotifyCallback[T], onErr pvsupport.NotifyErrorCallback) error {
	var wrapped pvsupport.NotifyCallback[O]
	if onValue != nil {
		wrapped = func(value pvtype.Value[O], version pvtype.Version) {
			onValue(c.convertToTarget(value), version)
		}
	}
	return c.original.Notify(wrapped, onErr)
}

func (c *converting[O, T]) NotifyFinished() { c.original.NotifyFinished() }
func (c *converting[O, T]) CancelNotify()   { c.original.CancelNotify() }

func (c *converting[O, T]) Read(onValue pvsupport.ReadCallback[T], onErr pvsupport.ErrorCallback) (bool, error) {
	var wrapped pvsupport.ReadCallback[O]
	if onValue != nil {
		wrapped = func(immediate bool, value pvtype.Value[O], version pvtype.Version) {
			onValue(immediate, c.convertToTarget(value), version)
		}
	}
	return c.original.Read(wrapped, onErr)
}

func (c *converting[O, T]) Write(value pvtype.Value[T], version pvtype.Version, onOK pvsupport.WriteCallback, onErr pvsupport.ErrorCallback) (bool, error) {
	return c.original.Write(c.convertToOriginal(value), version, onOK, onErr)
}
