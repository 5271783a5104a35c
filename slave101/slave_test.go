package slave101

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/link101"
)

// bufPort is an in-memory Port: inbound feeds ServeOne's Read calls,
// outbound captures what the slave writes back.
type bufPort struct {
	inbound  *bytes.Buffer
	outbound *bytes.Buffer
}

func (p *bufPort) Read(buf []byte, deadline time.Time) (int, error) {
	if p.inbound.Len() == 0 {
		return 0, errTimeout{}
	}
	return p.inbound.Read(buf)
}

func (p *bufPort) Write(buf []byte) (int, error) {
	return p.outbound.Write(buf)
}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }

func newTestSlave() (*Slave, *bufPort) {
	port := &bufPort{inbound: &bytes.Buffer{}, outbound: &bytes.Buffer{}}
	params := link101.DefaultParams
	s := New(port, params, asdu.ParamsNarrow101, 1, nil)
	return s, port
}

func TestResetRemoteLinkAcks(t *testing.T) {
	s, port := newTestSlave()
	control := byte(link101.FuncResetRemoteLink) | link101.PRM
	port.inbound.Write(link101.EncodeFixed(control, 1, 1))

	if ok := s.ServeOne(time.Now().Add(time.Second)); !ok {
		t.Fatalf("expected ServeOne to handle RESET_REMOTE_LINK")
	}
	if port.outbound.Len() == 0 {
		t.Fatalf("expected an ACK to be written")
	}
}

func TestRequestUserData2RespondsNoDataWhenEmpty(t *testing.T) {
	s, port := newTestSlave()
	// Reset first so fcbValid is established, mirroring real startup.
	reset := byte(link101.FuncResetRemoteLink) | link101.PRM
	port.inbound.Write(link101.EncodeFixed(reset, 1, 1))
	s.ServeOne(time.Now().Add(time.Second))
	port.outbound.Reset()

	control := byte(link101.FuncRequestUserData2) | link101.PRM | link101.FCV
	port.inbound.Write(link101.EncodeFixed(control, 1, 1))
	if ok := s.ServeOne(time.Now().Add(time.Second)); !ok {
		t.Fatalf("expected ServeOne to handle class-2 poll")
	}

	frame, _, err := link101.ParseFrame(port.outbound.Bytes(), 1)
	if err != nil {
		t.Fatalf("ParseFrame reply: %v", err)
	}
	if frame.FuncCode() != link101.FuncRespNoData {
		t.Fatalf("funcCode = %d, want FuncRespNoData", frame.FuncCode())
	}
}

func TestRequestUserData2DeliversQueuedASDU(t *testing.T) {
	s, port := newTestSlave()
	p := asdu.ParamsNarrow101
	a := asdu.NewASDU(&p, asdu.Identifier{
		Type:       asdu.MSpNa1,
		Variable:   asdu.VariableStruct{Number: 1},
		Cause:      asdu.CauseOfTransmission{Cause: asdu.CotSpontaneous},
		CommonAddr: 1,
	})
	_ = a.AppendObjects(asdu.InfoObj{Address: 1, Body: asdu.SinglePointBody(asdu.SPIOn, asdu.QDSGood)})
	if err := s.Enqueue(a, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reset := byte(link101.FuncResetRemoteLink) | link101.PRM
	port.inbound.Write(link101.EncodeFixed(reset, 1, 1))
	s.ServeOne(time.Now().Add(time.Second))
	port.outbound.Reset()

	control := byte(link101.FuncRequestUserData2) | link101.PRM | link101.FCV
	port.inbound.Write(link101.EncodeFixed(control, 1, 1))
	s.ServeOne(time.Now().Add(time.Second))

	frame, _, err := link101.ParseFrame(port.outbound.Bytes(), 1)
	if err != nil {
		t.Fatalf("ParseFrame reply: %v", err)
	}
	if frame.Kind != link101.TypeVariable || frame.FuncCode() != link101.FuncRespUserData {
		t.Fatalf("unexpected reply frame: %+v", frame)
	}
	decoded, err := asdu.ParseASDU(&p, frame.Data)
	if err != nil {
		t.Fatalf("ParseASDU: %v", err)
	}
	if decoded.Type != asdu.MSpNa1 {
		t.Fatalf("decoded type = %v, want MSpNa1", decoded.Type)
	}
}

func TestSendCommandsEnqueuesGroupedASDU(t *testing.T) {
	s, _ := newTestSlave()
	cmds := []asdu.Command{
		{TypeID: asdu.CScNa1, CommonAddr: 1, Address: 16001, Cause: asdu.CotActivation, Value: asdu.SPIOn},
	}
	if err := s.SendCommands(cmds, true); err != nil {
		t.Fatalf("SendCommands: %v", err)
	}
	status := s.GetStatus()
	if status.Class1Queued != 1 {
		t.Fatalf("Class1Queued = %d, want 1", status.Class1Queued)
	}
	if status.Class2Queued != 0 {
		t.Fatalf("Class2Queued = %d, want 0", status.Class2Queued)
	}
}

func TestGetStatusReportsRunningAfterStartStop(t *testing.T) {
	s, _ := newTestSlave()
	if status := s.GetStatus(); status.Running {
		t.Fatalf("expected Running = false before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Start sets running under its mutex before it launches the serve
	// goroutine, so no sleep/poll is needed here.
	if status := s.GetStatus(); !status.Running {
		t.Fatalf("expected Running = true after Start")
	}
	s.Stop()
}

func TestDeliverCommandInvokesHandler(t *testing.T) {
	s, port := newTestSlave()
	var received *asdu.ASDU
	s.SetCommandHandler(func(a *asdu.ASDU) { received = a })

	p := asdu.ParamsNarrow101
	a := asdu.NewASDU(&p, asdu.Identifier{
		Type:       asdu.CScNa1,
		Variable:   asdu.VariableStruct{Number: 1},
		Cause:      asdu.CauseOfTransmission{Cause: asdu.CotActivation},
		CommonAddr: 1,
	})
	_ = a.AppendObjects(asdu.InfoObj{Address: 16001, Body: asdu.SingleCommandBody(asdu.SingleCommand{Value: asdu.SPIOn})})
	body, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	reset := byte(link101.FuncResetRemoteLink) | link101.PRM
	port.inbound.Write(link101.EncodeFixed(reset, 1, 1))
	s.ServeOne(time.Now().Add(time.Second))
	port.outbound.Reset()

	control := byte(link101.FuncUserDataConfirmed) | link101.PRM | link101.FCV
	port.inbound.Write(link101.EncodeVariable(control, 1, 1, body))
	if ok := s.ServeOne(time.Now().Add(time.Second)); !ok {
		t.Fatalf("expected ServeOne to handle the confirmed command")
	}

	if received == nil {
		t.Fatalf("command handler was not invoked")
	}
	if received.Type != asdu.CScNa1 {
		t.Fatalf("received.Type = %v, want CScNa1", received.Type)
	}
}

func TestLinkStatusReportsACDWhenClass1Pending(t *testing.T) {
	s, port := newTestSlave()
	p := asdu.ParamsNarrow101
	a := asdu.NewASDU(&p, asdu.Identifier{Type: asdu.MSpNa1, Variable: asdu.VariableStruct{Number: 1}, Cause: asdu.CauseOfTransmission{Cause: asdu.CotSpontaneous}, CommonAddr: 1})
	_ = a.AppendObjects(asdu.InfoObj{Address: 1, Body: asdu.SinglePointBody(asdu.SPIOn, asdu.QDSGood)})
	_ = s.Enqueue(a, true)

	control := byte(link101.FuncRequestLinkStatus) | link101.PRM
	port.inbound.Write(link101.EncodeFixed(control, 1, 1))
	s.ServeOne(time.Now().Add(time.Second))

	frame, _, err := link101.ParseFrame(port.outbound.Bytes(), 1)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Control&link101.ACD == 0 {
		t.Fatalf("expected ACD bit set with class-1 data pending")
	}
}
