// Package loader provides file format loaders for firmware images
// (Intel HEX, Motorola SREC) that feed a flash.FlashBuilder's address
// space ahead of a program operation. Adapted from the teacher's
// pkg/loader, which fed the same address/data pairs to a Foenix
// upload command instead of a flash.FlashBuilder.
package loader

import (
	"fmt"
	"os"
)

// WriteHandler is a callback function that receives parsed address/data pairs.
// LoadInto below wires this directly to a flash.FlashBuilder's AddData.
type WriteHandler func(address uint32, data []byte) error

// Loader defines the interface for all file format loaders
type Loader interface {
	// Open opens the file for reading
	Open(filename string) error

	// Close closes the file
	Close() error

	// SetHandler sets the callback function to receive parsed data
	SetHandler(handler WriteHandler)

	// Process reads and parses the file, invoking the handler for each block
	Process() error
}

// BaseLoader provides common functionality for all loaders
type BaseLoader struct {
	file    *os.File
	handler WriteHandler
}

// SetHandler sets the write handler callback
func (b *BaseLoader) SetHandler(handler WriteHandler) {
	b.handler = handler
}

// Close closes the file
func (b *BaseLoader) Close() error {
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}

// builder is the subset of *flash.FlashBuilder that a loader needs.
// Kept as an interface here, rather than importing pkg/flash directly,
// so pkg/loader stays usable against any span-accumulating sink.
type builder interface {
	AddData(addr uint32, data []byte)
}

// LoadInto opens filename with l, streams every parsed address/data
// span into b, and closes l before returning.
func LoadInto(l Loader, filename string, b builder) error {
	if err := l.Open(filename); err != nil {
		return err
	}
	defer l.Close()

	l.SetHandler(func(address uint32, data []byte) error {
		b.AddData(address, data)
		return nil
	})
	return l.Process()
}

// ForExtension picks the loader matching a file's extension: ".hex"/
// ".ihex"/".ihx" for Intel HEX, ".srec"/".s19"/".s28"/".s37" for SREC.
func ForExtension(ext string) (Loader, error) {
	switch ext {
	case ".hex", ".ihex", ".ihx":
		return NewIntelHexLoader(), nil
	case ".srec", ".s19", ".s28", ".s37":
		return NewSRecLoader(), nil
	default:
		return nil, fmt.Errorf("no loader registered for extension %q", ext)
	}
}

// Helper function to convert hex string to bytes
func hexStringToBytes(hexStr string) ([]byte, error) {
	if len(hexStr)%2 != 0 {
		return nil, fmt.Errorf("hex string length must be even")
	}

	bytes := make([]byte, len(hexStr)/2)
	for i := 0; i < len(hexStr); i += 2 {
		var b byte
		_, err := fmt.Sscanf(hexStr[i:i+2], "%02x", &b)
		if err != nil {
			return nil, fmt.Errorf("invalid hex at position %d: %w", i, err)
		}
		bytes[i/2] = b
	}
	return bytes, nil
}
