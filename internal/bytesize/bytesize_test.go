package bytesize

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "1024B", 1024, false},

		{"kibibytes", "1KiB", 1024, false},
		{"mebibytes short", "100Mi", 100 * MiB, false},
		{"gibibytes", "1GiB", GiB, false},
		{"tebibytes", "2TiB", 2 * TiB, false},

		{"kilobytes", "1KB", 1000, false},
		{"megabytes", "512MB", 512 * MB, false},
		{"gigabytes short", "1G", GB, false},

		{"lowercase unit", "1gi", GiB, false},
		{"whitespace", "  1Gi  ", GiB, false},
		{"space between", "1 Gi", GiB, false},
		{"float mebibytes", "1.5Mi", ByteSize(1.5 * 1024 * 1024), false},

		{"empty", "", 0, true},
		{"just unit", "Gi", 0, true},
		{"unknown unit", "1XB", 0, true},
		{"negative", "-1Mi", 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{KiB, "1.00KiB"},
		{100 * MiB, "100.00MiB"},
		{GiB + 512*MiB, "1.50GiB"},
		{2 * TiB, "2.00TiB"},
	}

	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", uint64(tt.size), got, tt.want)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("256Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 256*MiB {
		t.Fatalf("UnmarshalText = %d, want %d", b, 256*MiB)
	}

	text, err := b.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var back ByteSize
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText(round trip): %v", err)
	}
	if back != b {
		t.Fatalf("round trip = %d, want %d", back, b)
	}
}

func TestConversions(t *testing.T) {
	size := ByteSize(1 << 30)
	if got := size.Uint64(); got != 1<<30 {
		t.Errorf("Uint64() = %d, want %d", got, uint64(1<<30))
	}
	if got := size.Int64(); got != 1<<30 {
		t.Errorf("Int64() = %d, want %d", got, int64(1<<30))
	}
}
