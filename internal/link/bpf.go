package link

import (
	"golang.org/x/net/bpf"
)

// FilterProgram returns a classic BPF program that accepts IPv4 UDP frames
// addressed to port, skipping non-initial fragments, and truncates accepted
// frames to snapLen bytes.
func FilterProgram(port uint16, snapLen int) []bpf.Instruction {
	const reject = 10
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                                        // 0: ethertype
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: reject - 2},       // 1
		bpf.LoadAbsolute{Off: 23, Size: 1},                                        // 2: ip protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: reject - 4},           // 3
		bpf.LoadAbsolute{Off: 20, Size: 2},                                        // 4: flags + fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: reject - 6},      // 5
		bpf.LoadMemShift{Off: 14},                                                 // 6: X = ip header length
		bpf.LoadIndirect{Off: 16, Size: 2},                                        // 7: udp dst port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: reject - 9}, // 8
		bpf.RetConstant{Val: uint32(snapLen)},                                     // 9
		bpf.RetConstant{Val: 0},                                                   // 10
	}
}
