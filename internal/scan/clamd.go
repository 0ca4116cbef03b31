// Package scan checks uploaded files with ClamAV before they are processed.
package scan

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dutchcoders/go-clamd"
)

// ErrInfected is returned when the daemon reports a signature match.
var ErrInfected = errors.New("malicious file detected")

// Scanner inspects a file's bytes.
type Scanner interface {
	Scan(data []byte) error
}

// Clamd streams files to a clamd daemon (tcp://host:3310 or unix socket path).
type Clamd struct {
	client *clamd.Clamd
}

func NewClamd(addr string) *Clamd {
	return &Clamd{client: clamd.NewClamd(addr)}
}

func (c *Clamd) Scan(data []byte) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := c.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}

	var infected error
	for r := range results {
		switch r.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			infected = fmt.Errorf("%w: %s", ErrInfected, strings.TrimSpace(r.Description))
		default:
			if infected == nil {
				infected = fmt.Errorf("scan failed: %s", strings.TrimSpace(r.Raw))
			}
		}
	}
	return infected
}

// Nop accepts every file. Used when no daemon address is configured.
type Nop struct{}

func (Nop) Scan([]byte) error { return nil }
