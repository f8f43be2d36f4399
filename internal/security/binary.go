package security

import (
	"encoding/binary"
	"fmt"
)

// WASM binary layout constants.
const (
	wasmMagic   = "\x00asm"
	wasmVersion = 1
)

// ValidateModuleBinary performs structural checks on a compiled module
// before it is admitted: non-empty, correct magic, supported version, and
// a size no larger than the module's own memory ceiling.
func ValidateModuleBinary(data []byte, perms ModulePermissions) error {
	if len(data) == 0 {
		return fmt.Errorf("module binary is empty")
	}
	if len(data) < 8 {
		return fmt.Errorf("module binary truncated: %d bytes", len(data))
	}
	if string(data[:4]) != wasmMagic {
		return fmt.Errorf("invalid module magic number")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != wasmVersion {
		return fmt.Errorf("unsupported module version %d", v)
	}

	limit := perms.MemoryLimit
	if limit == 0 {
		limit = Default().Module.MemoryLimit
	}
	if uint64(len(data)) > limit {
		return fmt.Errorf("module size %d exceeds limit %d", len(data), limit)
	}
	return nil
}
