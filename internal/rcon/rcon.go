// Package rcon sends administrative commands to the supervised server over
// the RCON protocol. Each call opens, uses and closes its own connection.
package rcon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gorcon/rcon"
)

const DefaultTimeout = 5 * time.Second

// Config holds the RCON endpoint and credential.
type Config struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Error is returned for every failed command: dial, authentication,
// protocol or timeout errors alike.
type Error struct {
	Addr    string
	Command string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rcon %s %q: %v", e.Addr, e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client is a short-lived-connection RCON client.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{cfg: cfg}
}

// Send executes command and returns the server's reply.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	addr := c.cfg.Addr()
	if err := ctx.Err(); err != nil {
		return "", &Error{Addr: addr, Command: command, Err: err}
	}
	timeout := c.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	conn, err := rcon.Dial(addr, c.cfg.Password,
		rcon.SetDialTimeout(timeout),
		rcon.SetDeadline(timeout),
	)
	if err != nil {
		return "", &Error{Addr: addr, Command: command, Err: err}
	}
	defer func() { _ = conn.Close() }()

	resp, err := conn.Execute(command)
	if err != nil {
		return "", &Error{Addr: addr, Command: command, Err: err}
	}
	return resp, nil
}
