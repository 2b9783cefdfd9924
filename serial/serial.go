// Package serial models the debugging console UART: kernel Putchar output
// lands here, and injected input raises the console interrupt vector so a
// user-level driver can drain it.
package serial

import (
	"io"
	"os"
)

// IRQInjector raises the console interrupt towards the kernel.
type IRQInjector interface {
	InjectConsoleIRQ() error
}

// Serial is the console device.
type Serial struct {
	inputChan chan byte

	irqInjector IRQInjector
	output      io.Writer
}

// New creates a console writing to stdout.
func New(irqInjector IRQInjector) (*Serial, error) {
	s := &Serial{
		inputChan:   make(chan byte, 10000),
		irqInjector: irqInjector,
		output:      os.Stdout,
	}

	return s, nil
}

// SetOutput redirects console output.
func (s *Serial) SetOutput(w io.Writer) {
	s.output = w
}

// Write sinks kernel console output; Serial is the port's output writer.
func (s *Serial) Write(p []byte) (int, error) {
	return s.output.Write(p)
}

// Feed queues one input byte and raises the console interrupt.
func (s *Serial) Feed(c byte) error {
	select {
	case s.inputChan <- c:
	default:
		// Full buffer drops input, like a real UART FIFO.
		return nil
	}

	return s.irqInjector.InjectConsoleIRQ()
}

// ReadByte hands one buffered input byte to the driver.
func (s *Serial) ReadByte() (byte, bool) {
	select {
	case c := <-s.inputChan:
		return c, true
	default:
		return 0, false
	}
}
