package asm

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// MaxNameLength is the identifier limit carried by the object format.
const MaxNameLength = 8

// TruncateName shortens an identifier to the 8-character object-format
// limit. Long names keep their first five characters followed by three hex
// digits of an FNV-1a hash, so distinct long names stay distinct.
func TruncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToUpper(name)))
	return fmt.Sprintf("%.5s%03X", name, h.Sum32()&0xfff)
}
