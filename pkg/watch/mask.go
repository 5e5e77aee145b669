package watch

import (
	"fmt"
	"strings"
)

// Mask is a set of notification flags. Values match inotify(7).
type Mask uint32

const (
	Access     Mask = 0x1
	Modify     Mask = 0x2
	Attrib     Mask = 0x4
	CloseWrite Mask = 0x8
	CloseNoWr  Mask = 0x10
	Open       Mask = 0x20
	MovedFrom  Mask = 0x40
	MovedTo    Mask = 0x80
	Create     Mask = 0x100
	Delete     Mask = 0x200
	DeleteSelf Mask = 0x400
	MoveSelf   Mask = 0x800
	Unmount    Mask = 0x2000
	QOverflow  Mask = 0x4000
	Ignored    Mask = 0x8000
	OnlyDir    Mask = 0x1000000
	ExclUnlink Mask = 0x4000000
	IsDir      Mask = 0x40000000
)

// DefaultMask is the set of events requested for every watch.
const DefaultMask = Create | Delete | DeleteSelf | CloseWrite | MoveSelf | MovedFrom | MovedTo | ExclUnlink

var maskNames = []struct {
	name string
	mask Mask
}{
	{"ACCESS", Access},
	{"MODIFY", Modify},
	{"ATTRIB", Attrib},
	{"CLOSE_WRITE", CloseWrite},
	{"CLOSE_NOWRITE", CloseNoWr},
	{"OPEN", Open},
	{"MOVED_FROM", MovedFrom},
	{"MOVED_TO", MovedTo},
	{"CREATE", Create},
	{"DELETE", Delete},
	{"DELETE_SELF", DeleteSelf},
	{"MOVE_SELF", MoveSelf},
	{"UNMOUNT", Unmount},
	{"Q_OVERFLOW", QOverflow},
	{"IGNORED", Ignored},
	{"ONLYDIR", OnlyDir},
	{"EXCL_UNLINK", ExclUnlink},
	{"ISDIR", IsDir},
}

// Has reports whether all flags in flags are set in m.
func (m Mask) Has(flags Mask) bool {
	return m&flags == flags
}

// String returns the flag names joined by `|`.
func (m Mask) String() string {
	if m == 0 {
		return "0"
	}

	var names []string

	rest := m
	for _, n := range maskNames {
		if m&n.mask != 0 {
			names = append(names, n.name)
			rest &^= n.mask
		}
	}

	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}

	return strings.Join(names, "|")
}
