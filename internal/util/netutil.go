// Package util holds small networking helpers shared by the server.
package util

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// SetCloexec sets or clears the close-on-exec flag on a file descriptor.
// Listeners handed to a child process during a binary upgrade must have the
// flag cleared so the descriptor survives the exec.
func SetCloexec(fd uintptr, enabled bool) error {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	if enabled {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl F_SETFD failed for fd %d: %w", fd, err)
	}
	return nil
}

// CreateListener creates a TCP listener on the given address. The
// underlying descriptor keeps FD_CLOEXEC cleared so it can be passed to a
// child process.
func CreateListener(network, address string) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("unsupported network type %q for CreateListener", network)
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("unexpected listener type %T for network %q", ln, network)
	}
	file, err := tcpLn.File()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to get file from listener: %w", err)
	}
	defer file.Close()
	if err := SetCloexec(file.Fd(), false); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}
