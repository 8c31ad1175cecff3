package device

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/terpsio/terps/pkg/eeprom"
	"github.com/terpsio/terps/pkg/frame"
)

// The EEPROM occupies a 0x200-byte address space.
const eepromAddrSpace = 0x200

// handleCommand dispatches one inbound command line. Every response,
// success or error, ends with the END sentinel so the host can detect
// completion without framing ambiguity.
func (d *Device) handleCommand(line string) {
	switch {
	case strings.HasPrefix(line, "EEPROM.DUMP"):
		addr, length := parseDumpArgs(line[len("EEPROM.DUMP"):])
		d.handleEEPROMDump(addr, length)
	case strings.HasPrefix(line, "EEPROM.PARSE"):
		d.writeLine("ERR UNSUPPORTED\n")
		d.writeLine("END\n")
	case strings.HasPrefix(line, "INFO.DEV"):
		d.handleInfoDev()
	default:
		d.writeLine("ERR UNKNOWN_CMD\n")
		d.writeLine("END\n")
	}
}

// parseDumpArgs parses the optional decimal addr and length arguments.
// Malformed arguments fall back to the full-buffer defaults.
func parseDumpArgs(args string) (uint16, int) {
	addr := 0
	length := eeprom.BufferSize

	fields := strings.Fields(args)
	if len(fields) >= 1 {
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return 0, eeprom.BufferSize
		}
		addr = int(v & 0xFFFF)
	}
	if len(fields) >= 2 {
		if v, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
			length = int(v)
		}
	}
	return uint16(addr), length
}

func (d *Device) handleEEPROMDump(addr uint16, length int) {
	if int(addr) >= eepromAddrSpace {
		d.writeLine("ERR BAD_ADDR\n")
		d.writeLine("END\n")
		return
	}
	if length <= 0 || length > eeprom.BufferSize {
		length = eeprom.BufferSize
	}
	if remaining := eepromAddrSpace - int(addr); length > remaining {
		length = remaining
	}

	if d.rom == nil {
		d.eepromValid = false
		d.writeLine("ERR UNIO_NO_DEVICE\n")
		d.writeLine("END\n")
		return
	}

	block, err := d.rom.Read(addr, length)
	if err != nil {
		d.eepromValid = false
		if errors.Is(err, eeprom.ErrNoDevice) {
			d.writeLine("ERR UNIO_NO_DEVICE\n")
		} else {
			d.writeLine("ERR EEPROM_IO\n")
		}
		d.writeLine("END\n")
		return
	}

	d.eepromValid = true
	d.lastEEPROMDev = block.DeviceAddr
	d.lastEEPROMLen = len(block.Data)

	d.writeLine(fmt.Sprintf("OK DEV=0x%02X START=0x%04X LEN=%d\n",
		block.DeviceAddr, block.StartAddr, len(block.Data)))
	d.writeHexBlock(block.Data)
	d.writeLine("END\n")
}

// writeHexBlock emits the payload as hex lines of at most 32 characters
// (16 bytes) each.
func (d *Device) writeHexBlock(data []byte) {
	const bytesPerLine = 16
	for off := 0; off < len(data); off += bytesPerLine {
		end := off + bytesPerLine
		if end > len(data) {
			end = len(data)
		}
		var sb strings.Builder
		for _, b := range data[off:end] {
			fmt.Fprintf(&sb, "%02X", b)
		}
		sb.WriteByte('\n')
		d.writeLine(sb.String())
	}
}

func (d *Device) handleInfoDev() {
	gpio := d.cfg.Pins.UNIOData
	if gpio == "" {
		gpio = "-"
	}
	mode := "csv"
	if d.sender.Mode() == frame.StreamBinary {
		mode = "binary"
	}
	line := fmt.Sprintf("OK FW=terps VER=uni_o gpio=%s bitrate=%d mode=%s",
		gpio, d.cfg.UNIO.BitrateBPS, mode)
	if d.eepromValid {
		line += fmt.Sprintf(" last_dev=0x%02X last_len=%d", d.lastEEPROMDev, d.lastEEPROMLen)
	}
	d.writeLine(line + "\n")
	d.writeLine("END\n")
}

// writeLine forwards a response line to the transport; failures degrade to
// a dropped response, never a fault.
func (d *Device) writeLine(text string) {
	if err := d.sender.WriteLine(text); err != nil && d.cfg.Debug.DeglitchStats {
		// The connection may have dropped mid-response.
		log.Printf("response dropped: %v", err)
	}
}
