// Package gameserver talks to the external game server over the Source RCON
// protocol (TCP). Each command dials, authenticates, executes and closes; the
// servers involved sit on the same network and commands are infrequent.
package gameserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Packet types
const (
	serverdataAuth         = 3
	serverdataAuthResponse = 2
	serverdataExecCommand  = 2
	serverdataResponse     = 0
)

const (
	dialTimeout = 3 * time.Second
	execTimeout = 5 * time.Second
	maxPacket   = 4096 + 10
)

// ErrAuthFailed means the server rejected the RCON password
var ErrAuthFailed = errors.New("rcon authentication failed")

// Commander executes raw commands on a game server. Satisfied by *Client;
// match sessions take the interface so tests can substitute a fake.
type Commander interface {
	Exec(ctx context.Context, command string) (string, error)
}

// Client is a Source RCON client bound to one server
type Client struct {
	address  string
	password string
}

// NewClient creates a client for the given address and RCON password
func NewClient(address, password string) *Client {
	return &Client{address: address, password: password}
}

// Exec runs a single command and returns the server's response body
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", c.address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(execTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if err := c.authenticate(conn); err != nil {
		return "", err
	}

	if err := writePacket(conn, 2, serverdataExecCommand, command); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}

	id, _, body, err := readPacket(conn)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if id != 2 {
		return "", fmt.Errorf("unexpected response id %d", id)
	}
	return body, nil
}

// authenticate sends the password and checks the auth response. Servers may
// send an empty RESPONSE_VALUE before the AUTH_RESPONSE; both are consumed.
func (c *Client) authenticate(conn net.Conn) error {
	if err := writePacket(conn, 1, serverdataAuth, c.password); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	for {
		id, ptype, _, err := readPacket(conn)
		if err != nil {
			return fmt.Errorf("reading auth response: %w", err)
		}
		if ptype != serverdataAuthResponse {
			continue
		}
		if id == -1 {
			return ErrAuthFailed
		}
		return nil
	}
}

// writePacket writes one RCON packet: int32 size, int32 id, int32 type,
// null-terminated body, trailing null.
func writePacket(w io.Writer, id, ptype int32, body string) error {
	size := int32(4 + 4 + len(body) + 2)
	buf := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(buf[0:], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:], uint32(ptype))
	copy(buf[12:], body)
	_, err := w.Write(buf)
	return err
}

// readPacket reads one RCON packet and returns id, type and body
func readPacket(r io.Reader) (int32, int32, string, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, 0, "", err
	}
	if size < 10 || size > maxPacket {
		return 0, 0, "", fmt.Errorf("invalid packet size %d", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, 0, "", err
	}
	id := int32(binary.LittleEndian.Uint32(buf[0:]))
	ptype := int32(binary.LittleEndian.Uint32(buf[4:]))
	body := strings.TrimRight(string(buf[8:]), "\x00")
	return id, ptype, body, nil
}

// Say prints a chat message on the server
func Say(ctx context.Context, c Commander, prefix, message string) error {
	text := message
	if prefix != "" {
		text = prefix + " " + message
	}
	_, err := c.Exec(ctx, fmt.Sprintf("say %q", text))
	return err
}

// ListBackupFiles lists the round backup files the server knows about,
// newest first.
func ListBackupFiles(ctx context.Context, c Commander) ([]string, error) {
	out, err := c.Exec(ctx, "mp_backup_restore_list_files")
	if err != nil {
		return nil, err
	}
	return parseBackupList(out), nil
}

// RestoreBackup tells the server to restore a specific round backup
func RestoreBackup(ctx context.Context, c Commander, file string) error {
	_, err := c.Exec(ctx, "mp_backup_restore_load_file "+file)
	return err
}

// parseBackupList extracts backup file names from command output. The server
// prints one file per line plus a trailing summary line.
func parseBackupList(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, ".txt") {
			files = append(files, line)
		}
	}
	// newest first: the server lists oldest first
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}
	return files
}
