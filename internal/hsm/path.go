package hsm

import (
	"fmt"
	"strconv"
	"strings"
)

// Hardened is the offset added to a BIP32 index to request hardened derivation.
const Hardened uint32 = 0x80000000

// Path is a BIP32 derivation path as a list of child indexes.
type Path []uint32

// ParsePath parses paths such as "m/44'/0'/0'/0/999". Both ' and h mark a
// hardened index. The leading "m" is optional.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty derivation path")
	}

	parts := strings.Split(s, "/")
	if parts[0] == "m" || parts[0] == "M" {
		parts = parts[1:]
	}

	path := make(Path, 0, len(parts))
	for _, p := range parts {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h") || strings.HasSuffix(p, "H")
		if hardened {
			p = p[:len(p)-1]
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid path component %q: %w", p, err)
		}
		idx := uint32(n)
		if hardened {
			if idx >= Hardened {
				return nil, fmt.Errorf("hardened index %d out of range", idx)
			}
			idx += Hardened
		}
		path = append(path, idx)
	}
	return path, nil
}

// MustParsePath is like ParsePath but panics on malformed input. Intended for
// package-level constants.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, idx := range p {
		b.WriteByte('/')
		if idx >= Hardened {
			b.WriteString(strconv.FormatUint(uint64(idx-Hardened), 10))
			b.WriteByte('\'')
		} else {
			b.WriteString(strconv.FormatUint(uint64(idx), 10))
		}
	}
	return b.String()
}

// Clone returns a copy that does not share the backing array.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}
