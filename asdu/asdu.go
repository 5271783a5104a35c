package asdu

import "fmt"

/*
ASDU (Application Service Data Unit).

On the wire an ASDU is:

	| Type Identification                    |  --------------------
	| SQ | Number of objects                 |           |
	| T  | P/N | Cause of transmission (COT)  |   Data Unit Identifier
	| [Originator address]  (if SizeOfCOT==2) |           |
	| Common Address (1 or 2 bytes)           |  --------------------
	| Information objects ...                |

The payload layout depends on VSQ's sequence flag: when false, every
information object carries its own IOA; when true, one IOA is sent
followed by Number consecutive elements at increasing IOAs.
*/
type ASDU struct {
	Params *Params
	Identifier

	// infoObj holds, during encoding, the bytes appended so far, and
	// during decoding, the remaining undecoded payload.
	infoObj []byte
}

// NewASDU starts building an ASDU with the given identifier. Information
// objects are added with AppendObjects / AppendSequence.
func NewASDU(params *Params, id Identifier) *ASDU {
	return &ASDU{Params: params, Identifier: id}
}

// InfoObj is one information object: an address plus its pre-encoded
// element bytes (value + quality + optional time tag, per the TypeID's
// catalog entry).
type InfoObj struct {
	Address IOA
	Body    []byte
}

// AppendObjects appends objs with SQ=false: every object carries its own
// IOA. Number is set to len(objs); errors if that exceeds 127 or if any
// body's size disagrees with the TypeID's catalog entry.
func (a *ASDU) AppendObjects(objs ...InfoObj) error {
	if err := a.checkObjects(objs); err != nil {
		return err
	}
	a.Variable = VariableStruct{IsSequence: false, Number: len(objs)}
	for _, o := range objs {
		a.infoObj = appendIOA(a.infoObj, o.Address, a.Params.SizeOfIOA)
		a.infoObj = append(a.infoObj, o.Body...)
	}
	return nil
}

// AppendSequence appends objs with SQ=true: one IOA (the first object's
// address) followed by each element body in turn. Callers must ensure
// addresses are contiguous; this is not re-validated here.
func (a *ASDU) AppendSequence(startAddr IOA, bodies ...[]byte) error {
	objs := make([]InfoObj, len(bodies))
	for i, b := range bodies {
		objs[i] = InfoObj{Address: startAddr + IOA(i), Body: b}
	}
	if err := a.checkObjects(objs); err != nil {
		return err
	}
	a.Variable = VariableStruct{IsSequence: true, Number: len(bodies)}
	a.infoObj = appendIOA(a.infoObj, startAddr, a.Params.SizeOfIOA)
	for _, b := range bodies {
		a.infoObj = append(a.infoObj, b...)
	}
	return nil
}

func (a *ASDU) checkObjects(objs []InfoObj) error {
	if len(objs) == 0 {
		return fmt.Errorf("asdu: at least one information object required")
	}
	if len(objs) > 127 {
		return fmt.Errorf("asdu: too many information objects: %d > 127", len(objs))
	}
	want, ok := elementSize(a.Type)
	if !ok {
		return nil // unknown/structural-only type (e.g. file transfer): trust caller
	}
	for _, o := range objs {
		if len(o.Body) != want {
			return fmt.Errorf("asdu: %s element must be %d bytes, got %d", a.Type, want, len(o.Body))
		}
	}
	return nil
}

// MarshalBinary encodes the full ASDU: identifier followed by
// information-object payload.
func (a *ASDU) MarshalBinary() ([]byte, error) {
	if err := a.Params.Valid(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, a.Params.IdentifierSize()+len(a.infoObj))
	buf = append(buf, byte(a.Type))
	buf = append(buf, a.Variable.byte())

	cotByte := a.Cause.byte()
	if a.Params.SizeOfCOT == 2 {
		orig := a.OrigAddr
		if orig == 0 {
			orig = a.Params.OriginatorAddress
		}
		buf = append(buf, cotByte, byte(orig))
	} else {
		buf = append(buf, cotByte)
	}
	buf = appendCommonAddr(buf, a.CommonAddr, a.Params.SizeOfCA)
	buf = append(buf, a.infoObj...)

	if len(buf) > a.Params.MaxSizeOfASDU {
		return nil, fmt.Errorf("asdu: encoded ASDU exceeds maxSizeOfASDU (%d)", a.Params.MaxSizeOfASDU)
	}
	return buf, nil
}

// ParseASDU decodes the identifier and stashes the remaining payload for
// consumption via the Decode* helpers (DecodeObjects, or a typed reader
// from command.go/monitor.go).
func ParseASDU(params *Params, raw []byte) (*ASDU, error) {
	idSize := params.IdentifierSize()
	if len(raw) < idSize {
		return nil, fmt.Errorf("asdu: truncated header: need %d bytes, got %d", idSize, len(raw))
	}
	a := &ASDU{Params: params}
	pos := 0
	a.Type = TypeID(raw[pos])
	pos++
	a.Variable = parseVariableStruct(raw[pos])
	pos++
	a.Cause = parseCauseOfTransmission(raw[pos])
	pos++
	if params.SizeOfCOT == 2 {
		a.OrigAddr = OriginAddr(raw[pos])
		pos++
	}
	a.CommonAddr = decodeCommonAddr(raw[pos:pos+params.SizeOfCA], params.SizeOfCA)
	pos += params.SizeOfCA

	a.infoObj = raw[pos:]
	return a, nil
}

// DecodeObjects splits the remaining payload into per-object (address,
// body) pairs according to the VSQ sequence flag and the TypeID's
// catalog element size. Unknown types (file transfer, vendor-specific)
// return the objects with raw, unsplit bodies sized evenly across
// Number objects.
func (a *ASDU) DecodeObjects() ([]InfoObj, error) {
	n := a.Variable.Number
	if n == 0 {
		return nil, fmt.Errorf("asdu: zero-length information object count")
	}
	size, known := elementSize(a.Type)

	if a.Variable.IsSequence {
		c := &cursor{data: a.infoObj}
		start := c.ioa(a.Params.SizeOfIOA)
		if c.err != nil {
			return nil, c.err
		}
		if !known {
			size = c.remaining() / n
		}
		objs := make([]InfoObj, n)
		for i := 0; i < n; i++ {
			objs[i] = InfoObj{Address: start + IOA(i), Body: c.need(size)}
		}
		if c.err != nil {
			return nil, c.err
		}
		return objs, nil
	}

	c := &cursor{data: a.infoObj}
	objs := make([]InfoObj, n)
	for i := 0; i < n; i++ {
		addr := c.ioa(a.Params.SizeOfIOA)
		elemSize := size
		if !known {
			elemSize = (c.remaining()) / (n - i)
		}
		objs[i] = InfoObj{Address: addr, Body: c.need(elemSize)}
	}
	if c.err != nil {
		return nil, c.err
	}
	return objs, nil
}
