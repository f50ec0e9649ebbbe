package crypto

import "testing"

func TestChecksumKnownVectors(t *testing.T) {
	cases := []struct {
		data []byte
		want uint32
	}{
		{nil, 0},
		{[]byte{}, 0},
		{[]byte("123456789"), 0xCBF43926},
		{[]byte("The quick brown fox jumps over the lazy dog"), 0x414FA339},
	}

	for _, tc := range cases {
		if got := Checksum(tc.data); got != tc.want {
			t.Fatalf("Checksum(%q) = %08x, want %08x", tc.data, got, tc.want)
		}
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	data := []byte("important backup contents")
	original := Checksum(data)

	data[3] ^= 0x01
	if Checksum(data) == original {
		t.Fatalf("checksum must change when content changes")
	}
}
