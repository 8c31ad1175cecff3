package unio

import "periph.io/x/conn/v3/gpio"

// PinLine adapts a GPIO pin to the bus Line. Drive switches the pin to
// output at the requested level; Release turns it back to a pulled-up
// input so the device can drive the wire.
type PinLine struct {
	Pin gpio.PinIO
}

var _ Line = (*PinLine)(nil)

// DriveHigh actively drives the line high.
func (l *PinLine) DriveHigh() {
	_ = l.Pin.Out(gpio.High)
}

// DriveLow actively drives the line low.
func (l *PinLine) DriveLow() {
	_ = l.Pin.Out(gpio.Low)
}

// Release stops driving the line.
func (l *PinLine) Release() {
	_ = l.Pin.In(gpio.PullUp, gpio.NoEdge)
}

// Sample reads the line level.
func (l *PinLine) Sample() bool {
	return l.Pin.Read() == gpio.High
}
