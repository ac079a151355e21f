package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// Grids may keep thousands of outputs open, so buffers stay small
const writeBufferSize = 64 << 10

// outputFile is a buffered output file that can be discarded on failure
type outputFile struct {
	path string
	file *os.File
	buf  *bufio.Writer
}

func createOutputFile(path string) (*outputFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	return &outputFile{path: path, file: f, buf: bufio.NewWriterSize(f, writeBufferSize)}, nil
}

func (o *outputFile) Write(p []byte) (int, error) {
	return o.buf.Write(p)
}

// close flushes buffered data and closes the file
func (o *outputFile) close() error {
	return multierr.Append(o.buf.Flush(), o.file.Close())
}

// remove closes the file without flushing and deletes it
func (o *outputFile) remove() error {
	err := o.file.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	if rmErr := os.Remove(o.path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = multierr.Append(err, rmErr)
	}
	return err
}
