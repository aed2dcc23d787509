//go:build windows

package memory_map

// Page protection and region type values of MEMORY_BASIC_INFORMATION.
const (
	pageNoAccess         = 0x01
	pageReadOnly         = 0x02
	pageReadWrite        = 0x04
	pageWriteCopy        = 0x08
	pageExecute          = 0x10
	pageExecuteRead      = 0x20
	pageExecuteReadWrite = 0x40
	pageExecuteWriteCopy = 0x80
	pageGuard            = 0x100

	memPrivate = 0x20000
)

// PermsFromProtect converts a VirtualQueryEx protection value into the
// /proc/[pid]/maps style permission string used throughout memlink.
func PermsFromProtect(protect, memType uint32) string {
	perms := []byte("---p")

	if protect&pageGuard != 0 || protect&pageNoAccess != 0 {
		if memType != memPrivate {
			perms[3] = 's'
		}
		return string(perms)
	}

	switch protect & 0xFF {
	case pageReadOnly:
		perms[0] = 'r'
	case pageReadWrite, pageWriteCopy:
		perms[0], perms[1] = 'r', 'w'
	case pageExecute:
		perms[2] = 'x'
	case pageExecuteRead:
		perms[0], perms[2] = 'r', 'x'
	case pageExecuteReadWrite, pageExecuteWriteCopy:
		perms[0], perms[1], perms[2] = 'r', 'w', 'x'
	}

	if memType != memPrivate {
		perms[3] = 's'
	}
	return string(perms)
}
