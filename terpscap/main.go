// terpscap captures the binary frame stream from a device's serial port,
// resynchronizes on the frame header and prints each record as CSV.
package main

import (
	"flag"
	"log"
	"os"

	"go.bug.st/serial"

	"github.com/terpsio/terps/pkg/frame"
)

func main() {
	var (
		portFlag = flag.String("p", "", "Serial port to capture from (e.g., /dev/ttyACM0)")
		baudFlag = flag.Int("b", 115200, "Baud rate")
	)
	flag.Parse()

	if *portFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	port, err := serial.Open(*portFlag, &serial.Mode{BaudRate: *baudFlag})
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *portFlag, err)
	}
	defer port.Close()

	var pending []byte
	buf := make([]byte, 512)
	for {
		n, err := port.Read(buf)
		if err != nil {
			log.Fatalf("Serial read failed: %v", err)
		}
		pending = append(pending, buf[:n]...)
		pending = drainFrames(pending)
	}
}

// drainFrames decodes every complete frame in the buffer and returns the
// unconsumed tail. Bytes before a valid header, and frames that fail their
// checksum, are skipped one byte at a time so a corrupted stream resyncs on
// the next header.
func drainFrames(pending []byte) []byte {
	for {
		start := frameStart(pending)
		pending = pending[start:]
		if len(pending) < frame.EncodedLen {
			return pending
		}

		f, err := frame.DecodeBinary(pending)
		if err != nil {
			pending = pending[1:]
			continue
		}
		os.Stdout.WriteString(f.EncodeCSV())
		pending = pending[frame.EncodedLen:]
	}
}

// frameStart returns the offset of the first plausible frame header.
func frameStart(pending []byte) int {
	for i := 0; i+1 < len(pending); i++ {
		if pending[i] == frame.HeaderByte0 && pending[i+1] == frame.HeaderByte1 {
			return i
		}
	}
	if n := len(pending); n > 0 && pending[n-1] == frame.HeaderByte0 {
		// A header may be split across reads; keep the trailing byte.
		return n - 1
	}
	return len(pending)
}
