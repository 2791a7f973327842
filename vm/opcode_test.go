package vm

import "testing"

func TestOpcodeByteRoundTrip(t *testing.T) {
	for mnemonic, op := range strToOpcodeMap {
		got := OpcodeFromByte(byte(op))
		if got != op {
			t.Fatalf("mnemonic %q: OpcodeFromByte(byte(%v)) = %v, want %v", mnemonic, op, got, op)
		}
	}
}

func TestOpcodeFromByteIsIllegalOutsideEnumeration(t *testing.T) {
	known := make(map[byte]bool, len(strToOpcodeMap))
	for _, op := range strToOpcodeMap {
		known[byte(op)] = true
	}
	for b := 0; b < 256; b++ {
		if known[byte(b)] {
			continue
		}
		if got := OpcodeFromByte(byte(b)); got != ILLEGAL {
			t.Fatalf("byte %d: expected ILLEGAL, got %v", b, got)
		}
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	source := `
		.data
	greeting: .asciiz 'hi'
		.code
		load  $0 #100000
		loadf64 $1 #3.5
	loop_body:
		inc   $0
		load  $2 @loop_body
		loop  @loop_body
		call  @addone
		prts  @greeting
		hlt
	addone:
		inc   $0
		ret
	`

	first := mustAssemble(t, source)
	second := mustAssemble(t, source)

	if len(first) != len(second) {
		t.Fatalf("assemble produced different lengths across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("assemble output diverged at byte %d: %d vs %d", i, first[i], second[i])
		}
	}
}
