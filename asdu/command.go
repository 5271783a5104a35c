package asdu

import (
	"fmt"
	"math"
	"time"
)

func mathFloat32bits(f float32) uint32 { return math.Float32bits(f) }

// Command-direction (control direction) value readers/writers.

func SingleCommandBody(c SingleCommand) []byte {
	return []byte{c.byte()}
}

func DecodeSingleCommand(body []byte) SingleCommand {
	return parseSingleCommand(body[0])
}

func DoubleCommandBody(c DoubleCommand) []byte {
	return []byte{c.byte()}
}

func DecodeDoubleCommand(body []byte) DoubleCommand {
	return parseDoubleCommand(body[0])
}

func StepCommandBody(c StepCommand) []byte {
	return []byte{c.byte()}
}

func DecodeStepCommand(body []byte) StepCommand {
	return parseStepCommand(body[0])
}

// SetpointQualifier (QOS) accompanies set-point commands: a 7-bit
// qualifier plus the select/execute bit.
type SetpointQualifier struct {
	Qual       byte
	SelectOnly bool
}

func (q SetpointQualifier) byte() byte {
	b := q.Qual & 0x7f
	if q.SelectOnly {
		b |= 0x80
	}
	return b
}

func parseSetpointQualifier(b byte) SetpointQualifier {
	return SetpointQualifier{Qual: b & 0x7f, SelectOnly: b&0x80 != 0}
}

func SetpointNormalizedBody(v Normalize, q SetpointQualifier) []byte {
	b := appendUint16(nil, uint16(v))
	return append(b, q.byte())
}

func DecodeSetpointNormalized(body []byte) (Normalize, SetpointQualifier) {
	c := &cursor{data: body}
	v := c.int16()
	return Normalize(v), parseSetpointQualifier(c.byte())
}

func SetpointScaledBody(v Scaled, q SetpointQualifier) []byte {
	b := appendUint16(nil, uint16(v))
	return append(b, q.byte())
}

func DecodeSetpointScaled(body []byte) (Scaled, SetpointQualifier) {
	c := &cursor{data: body}
	v := c.int16()
	return Scaled(v), parseSetpointQualifier(c.byte())
}

func SetpointFloatBody(v Floating, q SetpointQualifier) []byte {
	b := appendUint32(nil, mathFloat32bits(float32(v)))
	return append(b, q.byte())
}

func DecodeSetpointFloat(body []byte) (Floating, SetpointQualifier) {
	c := &cursor{data: body}
	v := c.float32()
	return Floating(v), parseSetpointQualifier(c.byte())
}

func Bitstring32CommandBody(v uint32) []byte {
	return appendUint32(nil, v)
}

func DecodeBitstring32Command(body []byte) uint32 {
	c := &cursor{data: body}
	return c.uint32()
}

// ValidateQualifier rejects an out-of-range qualifier of command
// (spec.md §4.8: "Command value out of range" is reported synchronously
// to the caller, the ASDU is never enqueued).
func ValidateQualifier(ql byte) error {
	if ql > 31 {
		return fmt.Errorf("asdu: qualifier of command out of range: %d > 31", ql)
	}
	return nil
}

// Command describes one outbound control-direction command before it is
// grouped and encoded by BuildCommands. Value's concrete type must match
// TypeID: SinglePointValue/bool for CScNa1/CScTa1, DoublePointValue for
// CDcNa1/CDcTa1, StepCommand for CRcNa1/CRcTa1, Normalize for CSeNa1/
// CSeTa1, Scaled for CSeNb1/CSeTb1, Floating for CSeNc1/CSeTc1, uint32
// for CBoNa1/CBoTa1. Time is only read for the *Ta1 (CP56Time2a) types.
type Command struct {
	TypeID     TypeID
	CommonAddr CommonAddr
	Address    IOA
	Cause      COT
	Qualifier  byte
	SelectOnly bool
	Value      interface{}
	Time       time.Time
}

// needsQualifier reports whether t carries a QU/QOS-style qualifier
// subject to ValidateQualifier (every command type except the bare
// bitstring command, which has no qualifier field at all).
func needsQualifier(t TypeID) bool {
	switch t {
	case CScNa1, CScTa1, CDcNa1, CDcTa1, CRcNa1, CRcTa1,
		CSeNa1, CSeTa1, CSeNb1, CSeTb1, CSeNc1, CSeTc1:
		return true
	default:
		return false
	}
}

// commandBody encodes cmd's value (and, for a *Ta1 type, its trailing
// CP56Time2a) into the information-element body BuildCommands appends.
func commandBody(cmd Command) ([]byte, error) {
	switch cmd.TypeID {
	case CScNa1, CScTa1:
		v, ok := cmd.Value.(SinglePointValue)
		if b, isBool := cmd.Value.(bool); isBool {
			v, ok = SinglePointValue(b), true
		}
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be SinglePointValue, got %T", cmd.TypeID, cmd.Value)
		}
		body := SingleCommandBody(SingleCommand{Value: v, Qual: cmd.Qualifier, SelectOnly: cmd.SelectOnly})
		return appendCommandTime(cmd, body), nil
	case CDcNa1, CDcTa1:
		v, ok := cmd.Value.(DoublePointValue)
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be DoublePointValue, got %T", cmd.TypeID, cmd.Value)
		}
		body := DoubleCommandBody(DoubleCommand{Value: v, Qual: cmd.Qualifier, SelectOnly: cmd.SelectOnly})
		return appendCommandTime(cmd, body), nil
	case CRcNa1, CRcTa1:
		v, ok := cmd.Value.(StepCommand)
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be StepCommand, got %T", cmd.TypeID, cmd.Value)
		}
		v.Qual = cmd.Qualifier
		v.SelectOnly = cmd.SelectOnly
		return appendCommandTime(cmd, StepCommandBody(v)), nil
	case CSeNa1, CSeTa1:
		v, ok := cmd.Value.(Normalize)
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be Normalize, got %T", cmd.TypeID, cmd.Value)
		}
		body := SetpointNormalizedBody(v, SetpointQualifier{Qual: cmd.Qualifier, SelectOnly: cmd.SelectOnly})
		return appendCommandTime(cmd, body), nil
	case CSeNb1, CSeTb1:
		v, ok := cmd.Value.(Scaled)
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be Scaled, got %T", cmd.TypeID, cmd.Value)
		}
		body := SetpointScaledBody(v, SetpointQualifier{Qual: cmd.Qualifier, SelectOnly: cmd.SelectOnly})
		return appendCommandTime(cmd, body), nil
	case CSeNc1, CSeTc1:
		v, ok := cmd.Value.(Floating)
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be Floating, got %T", cmd.TypeID, cmd.Value)
		}
		body := SetpointFloatBody(v, SetpointQualifier{Qual: cmd.Qualifier, SelectOnly: cmd.SelectOnly})
		return appendCommandTime(cmd, body), nil
	case CBoNa1, CBoTa1:
		v, ok := cmd.Value.(uint32)
		if !ok {
			return nil, fmt.Errorf("asdu: %s command value must be uint32, got %T", cmd.TypeID, cmd.Value)
		}
		return appendCommandTime(cmd, Bitstring32CommandBody(v)), nil
	default:
		return nil, fmt.Errorf("asdu: %s is not a command-direction value type supported by BuildCommands", cmd.TypeID)
	}
}

func appendCommandTime(cmd Command, body []byte) []byte {
	if catalogTimeTag[cmd.TypeID] != timeCP56 {
		return body
	}
	ts := SetCP56Time2a(cmd.Time)
	return append(body, ts[:]...)
}

// commandGroup is one (TypeID, CommonAddr) partition of a BuildCommands
// call, in first-seen order.
type commandGroup struct {
	typeID     TypeID
	commonAddr CommonAddr
	cause      COT
	objects    []InfoObj
}

// BuildCommands validates and groups cmds by (TypeID, CommonAddr) -
// spec.md §9's "keep this as an explicit pre-pass that partitions the
// input list before ASDU construction, so that a single ASDU carries at
// most one (typeId, CA) pair" - and returns one *ASDU per group, in the
// order the group was first seen.
func BuildCommands(params *Params, cmds []Command) ([]*ASDU, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("asdu: at least one command required")
	}

	var order []string
	groups := make(map[string]*commandGroup)
	for _, cmd := range cmds {
		if needsQualifier(cmd.TypeID) {
			if err := ValidateQualifier(cmd.Qualifier); err != nil {
				return nil, err
			}
		}
		body, err := commandBody(cmd)
		if err != nil {
			return nil, err
		}
		cause := cmd.Cause
		if cause == 0 {
			cause = CotActivation
		}
		key := fmt.Sprintf("%d/%d", cmd.TypeID, cmd.CommonAddr)
		g, ok := groups[key]
		if !ok {
			g = &commandGroup{typeID: cmd.TypeID, commonAddr: cmd.CommonAddr, cause: cause}
			groups[key] = g
			order = append(order, key)
		}
		g.objects = append(g.objects, InfoObj{Address: cmd.Address, Body: body})
	}

	asdus := make([]*ASDU, 0, len(order))
	for _, key := range order {
		g := groups[key]
		a := NewASDU(params, Identifier{
			Type:       g.typeID,
			Cause:      CauseOfTransmission{Cause: g.cause},
			CommonAddr: g.commonAddr,
		})
		if err := a.AppendObjects(g.objects...); err != nil {
			return nil, err
		}
		asdus = append(asdus, a)
	}
	return asdus, nil
}
