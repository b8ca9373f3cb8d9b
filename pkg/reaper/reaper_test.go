package reaper

import (
	"encoding/binary"
	"os"
	"testing"
)

func TestListenDecodesPidStream(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	want := []int{1, 4242, 1 << 21}
	go func() {
		var buf [pidSize]byte
		for _, pid := range want {
			binary.LittleEndian.PutUint32(buf[:], uint32(pid))
			w.Write(buf[:])
		}
		w.Close()
	}()

	var got []int
	Listen(r, func(pid int) { got = append(got, pid) })

	if len(got) != len(want) {
		t.Fatalf("got %d pids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pid %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestListenStopsOnShortRead(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		w.Write([]byte{0x01, 0x02}) // half a pid
		w.Close()
	}()

	called := 0
	Listen(r, func(int) { called++ })
	if called != 0 {
		t.Errorf("partial frames must not be delivered, got %d calls", called)
	}
}
