// Package bytesize provides a byte-count value type that parses
// human-readable sizes like "512MB", "1Gi" or plain numbers. It is used by
// the config layer for storage budgets and chunk sizes.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize represents a size in bytes.
//
// Accepted spellings: bare numbers (1024), binary units (Ki/KiB through
// Ti/TiB, x1024), decimal units (K/KB through T/TB, x1000) and a plain B
// suffix. Unit matching ignores case.
type ByteSize uint64

// Common byte size constants.
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// sizePattern matches a number followed by an optional unit suffix.
var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var unitMultipliers = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// Parse parses a human-readable byte size string.
// Accepts "1Gi", "500Mi", "100MB", "1024", "1.5Mi", etc.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty size")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("unparseable size %q", s)
	}
	number, unit := matches[1], strings.ToLower(matches[2])

	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", matches[2])
	}

	// Integers go through ParseUint so counts near the uint64 ceiling
	// keep their exact value.
	if !strings.Contains(number, ".") {
		n, err := strconv.ParseUint(number, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q in size", number)
		}
		return ByteSize(n) * multiplier, nil
	}

	n, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q in size", number)
	}
	return ByteSize(n * float64(multiplier)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize works in
// structs decoded by mapstructure/viper.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler for config round-trips.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String returns a human-readable representation using binary units.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}

// Uint64 returns the size as a plain uint64 count.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the ByteSize as an int64. May overflow for sizes above
// 8EiB, which the engine never configures.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
