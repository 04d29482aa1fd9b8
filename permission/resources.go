package permission

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownResource   = errors.New("permission: unknown resource")
	ErrDuplicateResource = errors.New("permission: duplicate resource")
	ErrTooManyResources  = errors.New("permission: too many resources")
)

// Mask is a set of resource bits. Bit 63 is the root bit: a mask holding
// it contains every resource.
type Mask uint64

const rootBit = 63

// MaxResources is the number of assignable bits.
const MaxResources = rootBit

// RootMask contains every resource.
const RootMask Mask = 1 << rootBit

func (m Mask) Contains(bit int) bool {
	if m&RootMask != 0 {
		return bit >= 0 && bit < 64
	}
	return bit >= 0 && bit < rootBit && m&(1<<bit) != 0
}

func (m Mask) With(bit int) Mask {
	if bit < 0 || bit >= 64 {
		return m
	}
	return m | 1<<bit
}

func (m Mask) Without(bit int) Mask {
	if bit < 0 || bit >= 64 {
		return m
	}
	return m &^ (1 << bit)
}

func (m Mask) Root() bool { return m&RootMask != 0 }

// ResourceSet is a fixed, ordered list of resource names. A name's bit is
// its position. Names are compared case-insensitively.
type ResourceSet struct {
	names []string
	index map[string]int
}

func NewResourceSet(names ...string) (*ResourceSet, error) {
	if len(names) > MaxResources {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyResources, len(names), MaxResources)
	}
	s := &ResourceSet{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, n := range names {
		n = normalize(n)
		if n == "" {
			return nil, errors.New("permission: empty resource name")
		}
		if _, dup := s.index[n]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, n)
		}
		s.index[n] = len(s.names)
		s.names = append(s.names, n)
	}
	return s, nil
}

func (s *ResourceSet) Bit(name string) (int, bool) {
	bit, ok := s.index[normalize(name)]
	return bit, ok
}

func (s *ResourceSet) Name(bit int) (string, bool) {
	if bit < 0 || bit >= len(s.names) {
		return "", false
	}
	return s.names[bit], true
}

func (s *ResourceSet) Len() int { return len(s.names) }

// Mask returns the bits of names. Every name must be in the set.
func (s *ResourceSet) Mask(names ...string) (Mask, error) {
	var m Mask
	for _, n := range names {
		bit, ok := s.Bit(n)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownResource, n)
		}
		m = m.With(bit)
	}
	return m, nil
}

// Names expands m in set order. A root mask expands to every name.
func (s *ResourceSet) Names(m Mask) []string {
	var out []string
	for bit, n := range s.names {
		if m.Contains(bit) {
			out = append(out, n)
		}
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
