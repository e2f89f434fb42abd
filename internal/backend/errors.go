package backend

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// ErrUnreachable matches any ConnectionError via errors.Is.
var ErrUnreachable = errors.New("backend unreachable")

const troubleshooting = `Network connection failed. The app could not reach your emulator server.

Please check the following common issues:

1. Is the server running?
   Make sure the emulator server process is active and not printing errors in its terminal.

2. Is the server URL correct?
   Verify the backend URL in the settings. If the server runs on a different machine
   (even on a local network or a VPN like Tailscale) you cannot use localhost; use the
   server's network address instead, e.g. http://192.168.1.10:5000.

3. Is the server listening on the network?
   The server must listen on all interfaces (0.0.0.0), not only on 127.0.0.1.

4. Is a firewall blocking the port?
   Firewalls on the server machine can drop the connection. Allow incoming traffic on
   the port the server uses (e.g. 5000).

5. Is cross-origin access enabled?
   Browser front ends also need the server to send CORS headers for this origin.`

// ConnectionError is returned when the backend host could not be reached at
// all. Its message is a troubleshooting checklist meant for the user.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return troubleshooting
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrUnreachable
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// translateError turns transport failures that mean "could not reach the
// host" into a ConnectionError. Everything else is wrapped with op and
// passed through.
func translateError(err error, op string) error {
	if err == nil {
		return nil
	}
	if isUnreachable(err) {
		return &ConnectionError{Op: op, Err: err}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUnreachable(err error) bool {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return false
	}
	if urlErr.Timeout() {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
