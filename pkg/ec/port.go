package ec

import (
	"os"
	"sync"

	"github.com/sierrasoftworks/humane-errors-go"
)

// DefaultIOFile is the EC I/O window exposed by the ec_sys kernel module.
const DefaultIOFile = "/sys/kernel/debug/ec/ec0/io"

// Port gives byte-addressable access to the embedded controller's register window.
type Port interface {
	// Read returns the value of a single register.
	Read(reg Register) (byte, error)
	// Write stores value into a single register.
	Write(reg Register, value byte) error
	// Close releases the underlying handle.
	Close() error
}

// filePort implements Port on top of the ec_sys debugfs file, where each file offset maps
// one-to-one onto an EC register.
type filePort struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

var _ Port = &filePort{}

// Open opens the EC I/O window at path for reading and writing.
func Open(path string) (Port, humane.Error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, humane.Wrap(err, "permission denied opening the EC I/O window",
				"run this command as root",
				"ensure the ec_sys module was loaded with write_support=1",
			)
		}
		return nil, humane.Wrap(err, "failed to open the EC I/O window",
			"ensure debugfs is mounted at /sys/kernel/debug",
			"ensure the ec_sys kernel module is loaded",
		)
	}

	return &filePort{path: path, f: f}, nil
}

func (p *filePort) Read(reg Register) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 1)
	if _, err := p.f.ReadAt(buf, int64(reg)); err != nil {
		return 0, humane.Wrap(err, "failed to read EC register "+reg.String(),
			"ensure "+p.path+" is readable and no other process holds the EC",
		)
	}
	return buf[0], nil
}

func (p *filePort) Write(reg Register, value byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.f.WriteAt([]byte{value}, int64(reg)); err != nil {
		return humane.Wrap(err, "failed to write EC register "+reg.String(),
			"ensure the ec_sys module was loaded with write_support=1",
		)
	}
	return nil
}

func (p *filePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}
