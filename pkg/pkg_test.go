package pkg

import (
	"bytes"
	"math"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	pub := bytes.Repeat([]byte{0x02}, 33)
	addr := EncodeAddress(pub)
	if addr[0] != '1' {
		t.Fatalf("version 0 addresses start with 1, got %s", addr)
	}
	if _, err := DecodeAddress(addr); err != nil {
		t.Fatalf("DecodeAddress failed: %v", err)
	}
	if EncodeAddress(pub) != addr {
		t.Fatal("address derivation must be deterministic")
	}

	// flip one character to break the checksum
	broken := []byte(addr)
	if broken[5] == 'a' {
		broken[5] = 'b'
	} else {
		broken[5] = 'a'
	}
	if _, err := DecodeAddress(string(broken)); err == nil {
		t.Fatal("expected checksum error")
	}
	if _, err := DecodeAddress(""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"30", 30, true},
		{"1e3", 1000, true},
		{"18446744073709551615", 18446744073709551615, true},
		{"18446744073709551616", 0, false},
		{"0", 0, false},
		{"-5", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseAmount(%q) = %d, %v; want %d", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseAmount(%q) should fail", c.in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(70, 0); got != "70" {
		t.Errorf("got %s", got)
	}
	if got := FormatAmount(150000000, 8); got != "1.50000000" {
		t.Errorf("got %s", got)
	}
}

func TestPaginate(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	if got := Paginate(items, 1, 2); len(got) != 2 || got[0] != 2 {
		t.Fatalf("unexpected page: %v", got)
	}
	if got := Paginate(items, 2, 2); len(got) != 1 || got[0] != 4 {
		t.Fatalf("unexpected last page: %v", got)
	}
	if got := Paginate(items, 9, 2); len(got) != 0 {
		t.Fatalf("expected empty page, got %v", got)
	}
	if got := Paginate(items, -1, 0); len(got) != 5 {
		t.Fatalf("expected defaults to cover all items, got %v", got)
	}
	if got := Paginate(items, math.MaxInt, 3); len(got) != 0 {
		t.Fatalf("expected empty page for huge page number, got %v", got)
	}
	if got := Paginate([]int{}, 0, 3); len(got) != 0 {
		t.Fatalf("expected empty page for no items, got %v", got)
	}
}

func TestUint64Bytes(t *testing.T) {
	v, err := BytesToUint64(Uint64ToBytes(42))
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if _, err := BytesToUint64([]byte{1}); err == nil {
		t.Fatal("expected length error")
	}
}
