package client104

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gridstream/go-iec60870/apci"
	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/transport"
)

// pipeStream adapts one half of a net.Pipe to transport.ByteStream for
// tests, avoiding any real socket.
type pipeStream struct {
	conn net.Conn
}

func (p *pipeStream) Open(ctx context.Context) error { return nil }
func (p *pipeStream) Close() error                    { return p.conn.Close() }
func (p *pipeStream) Read(buf []byte, deadline time.Time) (int, error) {
	_ = p.conn.SetReadDeadline(deadline)
	return p.conn.Read(buf)
}
func (p *pipeStream) Write(buf []byte) (int, error) { return p.conn.Write(buf) }
func (p *pipeStream) IsOpen() bool                  { return p.conn != nil }
func (p *pipeStream) RemoteAddr() string            { return "pipe" }

type staticDialer struct {
	stream transport.ByteStream
}

func (d *staticDialer) Dial(ctx context.Context, address string) (transport.ByteStream, error) {
	return d.stream, nil
}

// fakeServer drives the peer side of the pipe: confirms STARTDT/STOPDT
// and acknowledges any I-frame it receives with an S-frame.
func fakeServer(conn net.Conn, done chan struct{}) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		select {
		case <-done:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		for {
			a, consumed, perr := apci.Parse(buf)
			if perr != nil {
				break
			}
			buf = buf[consumed:]
			switch a.Kind {
			case apci.KindU:
				switch a.UFunc {
				case apci.UStartDTAct:
					_, _ = conn.Write(apci.EncodeU(apci.UStartDTCon))
				case apci.UStopDTAct:
					_, _ = conn.Write(apci.EncodeU(apci.UStopDTCon))
				}
			case apci.KindI:
				_, _ = conn.Write(apci.EncodeS(a.SendSN + 1))
			}
		}
	}
}

func newTestASDU() *asdu.ASDU {
	params := asdu.ParamsWide104
	a := asdu.NewASDU(&params, asdu.Identifier{
		Type:       asdu.MSpNa1,
		Variable:   asdu.VariableStruct{Number: 1},
		Cause:      asdu.CauseOfTransmission{Cause: asdu.CotSpontaneous},
		CommonAddr: 1,
	})
	_ = a.AppendObjects(asdu.InfoObj{Address: 1, Body: asdu.SinglePointBody(asdu.SPIOn, asdu.QDSGood)})
	return a
}

func TestClientConnectSendAndClose(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go fakeServer(serverConn, done)
	defer close(done)

	opt, err := NewOption("127.0.0.1:2404", nil)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	opt.SetConnectTimeout(2 * time.Second)

	c := New(opt, nil)
	c.dialer = &staticDialer{stream: &pipeStream{conn: clientConn}}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("expected IsConnected after successful handshake")
	}

	if err := c.Send(newTestASDU()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Give the fake server a moment to ack and the client to process it.
	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	outstanding := c.win.OutstandingCount()
	c.mu.Unlock()
	if outstanding != 0 {
		t.Fatalf("outstanding = %d, want 0 after S-ack", outstanding)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOptionDefaults(t *testing.T) {
	opt, err := NewOption(":2404", nil)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	if opt.server.Scheme != "tcp" {
		t.Fatalf("scheme = %s, want tcp", opt.server.Scheme)
	}
	if opt.connectTimeout != DefaultConnectTimeout {
		t.Fatalf("connectTimeout = %v, want default", opt.connectTimeout)
	}
	if opt.apciParams.K != apci.DefaultParams.K {
		t.Fatalf("apciParams not defaulted")
	}
}

func TestStatusWithoutUnwrappableStreamReportsOutstandingOnly(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go fakeServer(serverConn, done)
	defer close(done)

	opt, err := NewOption("127.0.0.1:2404", nil)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	opt.SetConnectTimeout(2 * time.Second)

	c := New(opt, nil)
	c.dialer = &staticDialer{stream: &pipeStream{conn: clientConn}}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, outstanding, ok := c.Status()
	if ok {
		t.Fatalf("expected ok=false: pipeStream does not implement transport.Unwrapper")
	}
	if outstanding != 0 {
		t.Fatalf("outstanding = %d, want 0 before any Send", outstanding)
	}
}

func TestSendWithoutConnectionFails(t *testing.T) {
	opt, _ := NewOption("127.0.0.1:2404", nil)
	c := New(opt, nil)

	if err := c.Send(newTestASDU()); err != ErrNotConnected {
		t.Fatalf("Send on unconnected client: got %v, want ErrNotConnected", err)
	}
}
