package transfer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// slowPath makes the test server send one byte and then stall until the
// client disconnects or the test ends.
const slowPath = "/slow/file"

// testSSHServer is a minimal SSH server that understands "cat -- 'path'"
// against the local filesystem.
type testSSHServer struct {
	addr    string
	port    int
	hostKey ssh.PublicKey

	mu       sync.Mutex
	commands []string

	release chan struct{}
}

func startSSHServer(t *testing.T, authorized ssh.PublicKey) *testSSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return &ssh.Permissions{}, nil
			}

			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testSSHServer{
		addr:    ln.Addr().String(),
		port:    ln.Addr().(*net.TCPAddr).Port,
		hostKey: hostSigner.PublicKey(),
		release: make(chan struct{}),
	}

	t.Cleanup(func() {
		close(s.release)
		ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go s.handleConn(conn, cfg)
		}
	}()

	return s
}

func (s *testSSHServer) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()

	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}

		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}

		go s.handleSession(ch, requests)
	}
}

func (s *testSSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}

		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		status := s.run(payload.Command, ch)

		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))

		return
	}
}

func (s *testSSHServer) run(command string, ch ssh.Channel) uint32 {
	quoted, ok := strings.CutPrefix(command, "cat -- ")
	if !ok {
		fmt.Fprintf(ch.Stderr(), "unsupported command: %s", command)
		return 127
	}

	path := unquote(quoted)

	if path == slowPath {
		_, _ = ch.Write([]byte("x"))
		<-s.release

		return 0
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(ch.Stderr(), "cat: %s: No such file or directory\n", path)
		return 1
	}

	_, _ = ch.Write(data)

	return 0
}

func (s *testSSHServer) lastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commands) == 0 {
		return ""
	}

	return s.commands[len(s.commands)-1]
}

// unquote reverses shellQuote.
func unquote(s string) string {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "'"), "'")
	return strings.ReplaceAll(s, `'\''`, "'")
}
