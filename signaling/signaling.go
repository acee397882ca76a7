package signaling

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/tarm/serial"
)

// ButtonSignal reads button tokens from a serial port and hands them to the
// callback. The panel sends each token followed by a semicolon.
type ButtonSignal struct {
	port     *serial.Port
	portName string
	baud     int
	mutex    sync.Mutex
	callback func(string) error
}

// NewButtonSignal creates a serial button handler.
func NewButtonSignal(portName string, baud int, callback func(string) error) *ButtonSignal {
	return &ButtonSignal{
		portName: portName,
		baud:     baud,
		callback: callback,
	}
}

// Connect opens the serial port and starts listening.
func (b *ButtonSignal) Connect() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.port != nil {
		return nil
	}

	port, err := serial.OpenPort(&serial.Config{
		Name: b.portName,
		Baud: b.baud,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port: %v", err)
	}
	b.port = port

	go b.listen()
	return nil
}

// listen continuously reads from the serial port.
func (b *ButtonSignal) listen() {
	reader := bufio.NewReader(b.port)
	var buffer strings.Builder

	for {
		by, err := reader.ReadByte()
		if err != nil {
			log.Printf("Error reading from serial port: %v", err)
			break
		}

		if by == ';' {
			if buffer.Len() > 0 {
				token := buffer.String()
				if b.callback != nil {
					if err := b.callback(token); err != nil {
						log.Printf("Error handling button %q: %v", token, err)
					}
				}
				buffer.Reset()
			}
		} else {
			buffer.WriteByte(by)
		}
	}
}

// Close closes the serial port connection.
func (b *ButtonSignal) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.port != nil {
		err := b.port.Close()
		b.port = nil
		return err
	}
	return nil
}
