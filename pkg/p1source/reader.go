// Package p1source reads a billing meter's cumulative registers from a local
// DSMR P1 port.
package p1source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// P1Reader reads telegrams from a serial port. Messages arrive every second.
type P1Reader struct {
	port        string
	baudrate    uint
	meterOnEdge string

	// open is replaced in tests.
	open func() (io.ReadWriteCloser, error)
}

// Initialize a new P1Reader client.
func NewP1Reader(port string, baudrate uint, meterOnEdge string) *P1Reader {
	p := &P1Reader{
		port:        port,
		baudrate:    baudrate,
		meterOnEdge: meterOnEdge,
	}
	p.open = p.openSerial
	return p
}

// StartReading blocks, calling handleRow for every valid telegram, until ctx
// is done or too many consecutive errors occurred.
func (p *P1Reader) StartReading(ctx context.Context, handleRow func(row types.TimedRow)) error {
	// Tolerance before we report error.
	const maxErrors = 10
	consecutiveErrors := 0
	var lastError error

	port, err := p.open()
	if err != nil {
		return err
	}
	defer func() {
		port.Close()
		log.Println("Disconnected from P1 port")
	}()

	// Closing the port unblocks a pending read.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	reader := bufio.NewReader(port)
	for consecutiveErrors < maxErrors {
		if ctx.Err() != nil {
			return nil
		}

		telegram, err := readTelegram(reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutiveErrors++
			lastError = err
			log.Printf("Error reading telegram (%d/%d): %v", consecutiveErrors, maxErrors, err)
			if err == io.EOF {
				break
			}
			time.Sleep(time.Second)
			continue
		}

		row, err := ParseTelegram(telegram, p.meterOnEdge, time.Now())
		if err != nil {
			log.Printf("Skipping telegram: %v", err)
			continue
		}
		handleRow(row)
		consecutiveErrors = 0
	}

	return fmt.Errorf("p1source: stopped after %d consecutive errors: %w", consecutiveErrors, lastError)
}

func (p *P1Reader) openSerial() (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.baudrate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	log.Printf("Connected to P1 port on %s", p.port)
	return port, nil
}

func readTelegram(reader *bufio.Reader) (string, error) {
	var buffer strings.Builder
	var inTelegram bool

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}

		if strings.HasPrefix(line, "/") {
			// Start of telegram
			buffer.Reset()
			buffer.WriteString(line)
			inTelegram = true
		} else if inTelegram {
			buffer.WriteString(line)
			if strings.HasPrefix(strings.TrimSpace(line), "!") {
				// End of telegram
				return buffer.String(), nil
			}
		}
	}
}
