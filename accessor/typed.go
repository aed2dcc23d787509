package accessor

import (
	"fmt"
	"reflect"
	"unsafe"

	"memlink/process"
)

// SizeOf returns the in-memory size of T.
func SizeOf[T any]() process.ProcessMemorySize {
	var t T
	return process.ProcessMemorySize(unsafe.Sizeof(t))
}

// checkPOD rejects types whose layout cannot be copied from another process.
func checkPOD[T any]() error {
	var t T
	if SizeOf[T]() == 0 {
		return fmt.Errorf("%w: size of %T is zero", process.ErrInvalidArgument, t)
	}
	if typeHasPointers(reflect.TypeOf(t)) {
		return fmt.Errorf("%w: %T contains pointers", process.ErrInvalidArgument, t)
	}
	return nil
}

// typeHasPointers reports whether rt (recursively) contains any pointer-like fields.
func typeHasPointers(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.String, reflect.Chan:
		return true
	case reflect.Array:
		return typeHasPointers(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if typeHasPointers(rt.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ReadT reads a value of type T at addr using its in-memory layout. T must
// be plain data (no Go pointers, slices, maps or strings).
func ReadT[T any](a *Accessor, id process.HandleID, addr process.ProcessMemoryAddress) (T, error) {
	var t T
	if err := checkPOD[T](); err != nil {
		return t, err
	}

	data, err := a.Read(id, addr, SizeOf[T]())
	if err != nil {
		return t, err
	}
	return FromBytes[T](data), nil
}

// ReadSliceT reads count consecutive values of type T starting at addr in
// one transfer.
func ReadSliceT[T any](a *Accessor, id process.HandleID, addr process.ProcessMemoryAddress, count int) ([]T, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", process.ErrInvalidArgument, count)
	}
	if err := checkPOD[T](); err != nil {
		return nil, err
	}
	if count == 0 {
		return []T{}, nil
	}

	size := SizeOf[T]()
	if uint64(count) > uint64(^process.ProcessMemorySize(0)/size) {
		return nil, fmt.Errorf("%w: %d elements overflow", process.ErrInvalidArgument, count)
	}

	blob, err := a.Read(id, addr, size*process.ProcessMemorySize(count))
	if err != nil {
		return nil, err
	}

	result := make([]T, count)
	for i := range result {
		result[i] = FromBytes[T](blob[i*int(size):])
	}
	return result, nil
}

// WriteT writes v at addr using its in-memory layout.
func WriteT[T any](a *Accessor, id process.HandleID, addr process.ProcessMemoryAddress, v T) error {
	if err := checkPOD[T](); err != nil {
		return err
	}
	_, err := a.Write(id, addr, ToBytes(v))
	return err
}

// ToBytes serializes a POD value T into a raw byte slice using the in-memory layout.
func ToBytes[T any](v T) []byte {
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return []byte{}
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	out := make([]byte, size)
	copy(out, src)
	return out
}

// FromBytes copies the leading bytes of src into a T. Missing bytes stay zero.
func FromBytes[T any](src []byte) T {
	var t T
	size := int(unsafe.Sizeof(t))
	if size == 0 {
		return t
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&t)), size)
	copy(dst, src)
	return t
}
