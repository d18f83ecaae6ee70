// Package respconn is the one concrete Transport (spec §6) this module
// ships: a RESP-over-TCP implementation of resp.Conn and resp.AsyncConn.
// The wire codec itself is explicitly out of scope for the cluster core
// (spec §1); this package exists only so the core is runnable end to end,
// the way original_source/src/examples links the core against real
// hiredis rather than a mock.
package respconn

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shinberg/go-rediscluster/resp"
)

// formatArgv renders argv as a RESP array of bulk strings — the wire
// shape every Redis command takes regardless of arity.
func formatArgv(argv []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(argv))
	for _, a := range argv {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	return []byte(b.String())
}

func isSubscribeCmd(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	switch strings.ToUpper(argv[0]) {
	case "SUBSCRIBE", "PSUBSCRIBE", "SSUBSCRIBE":
		return true
	default:
		return false
	}
}

// readReply parses exactly one RESP2 reply from r.
func readReply(r *bufio.Reader) (*resp.Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, io.ErrUnexpectedEOF
	}

	switch line[0] {
	case '+':
		return resp.NewStatus(line[1:]), nil
	case '-':
		return resp.NewError(line[1:]), nil
	case ':':
		n, err := strconv.ParseInt(line[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("respconn: bad integer reply %q: %w", line, err)
		}
		return resp.NewInteger(n), nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("respconn: bad bulk length %q: %w", line, err)
		}
		if n < 0 {
			return resp.NewNil(), nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return resp.NewBulkString(string(buf[:n])), nil
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("respconn: bad array length %q: %w", line, err)
		}
		if n < 0 {
			return resp.NewNil(), nil
		}
		elems := make([]*resp.Reply, n)
		for i := 0; i < n; i++ {
			elems[i], err = readReply(r)
			if err != nil {
				return nil, err
			}
		}
		return &resp.Reply{Type: resp.Array, Elements: elems}, nil
	default:
		return nil, fmt.Errorf("respconn: unrecognized reply prefix %q", line[0])
	}
}

// readLine reads one CRLF-terminated line, with the terminator stripped.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
