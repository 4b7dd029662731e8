package server

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 1000

	tests := []struct {
		name    string
		header  string
		want    byteRange
		wantErr error
	}{
		{name: "first hundred", header: "bytes=0-99", want: byteRange{0, 99}},
		{name: "open ended", header: "bytes=500-", want: byteRange{500, 999}},
		{name: "suffix", header: "bytes=-100", want: byteRange{900, 999}},
		{name: "suffix larger than object", header: "bytes=-5000", want: byteRange{0, 999}},
		{name: "end clamped", header: "bytes=900-5000", want: byteRange{900, 999}},
		{name: "spaces", header: " bytes= 10 - 19 ", want: byteRange{10, 19}},
		{name: "last byte", header: "bytes=999-999", want: byteRange{999, 999}},
		{name: "start past end", header: "bytes=1000-", wantErr: errUnsatisfiableRange},
		{name: "zero suffix", header: "bytes=-0", wantErr: errUnsatisfiableRange},
		{name: "wrong unit", header: "items=0-1", wantErr: errMalformedRange},
		{name: "multiple ranges", header: "bytes=0-1,5-6", wantErr: errMalformedRange},
		{name: "inverted", header: "bytes=50-10", wantErr: errMalformedRange},
		{name: "garbage", header: "bytes=a-b", wantErr: errMalformedRange},
		{name: "no dash", header: "bytes=100", wantErr: errMalformedRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRange(tt.header, size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseRange(%q) error = %v, want %v", tt.header, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange(%q) unexpected error: %v", tt.header, err)
			}
			if got != tt.want {
				t.Errorf("parseRange(%q) = %+v, want %+v", tt.header, got, tt.want)
			}
			if got.length() != tt.want.end-tt.want.start+1 {
				t.Errorf("length() = %d", got.length())
			}
		})
	}
}

func TestParseRangeEmptyObject(t *testing.T) {
	if _, err := parseRange("bytes=0-", 0); !errors.Is(err, errUnsatisfiableRange) {
		t.Errorf("expected unsatisfiable range for empty object, got %v", err)
	}
}
