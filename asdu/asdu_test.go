package asdu

import (
	"reflect"
	"testing"
	"time"
)

func testParams() *Params {
	p := ParamsWide104
	return &p
}

func TestASDURoundTripSinglePointIndividual(t *testing.T) {
	params := testParams()
	a := NewASDU(params, Identifier{
		Type:       MSpNa1,
		Cause:      CauseOfTransmission{Cause: CotInrogen},
		CommonAddr: 1,
	})
	body1 := SinglePointBody(SPIOn, QDSGood)
	body2 := SinglePointBody(SPIOff, QDSInvalid)
	if err := a.AppendObjects(
		InfoObj{Address: 100, Body: body1},
		InfoObj{Address: 200, Body: body2},
	); err != nil {
		t.Fatalf("AppendObjects: %v", err)
	}

	raw, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	decoded, err := ParseASDU(params, raw)
	if err != nil {
		t.Fatalf("ParseASDU: %v", err)
	}
	if decoded.Type != MSpNa1 || decoded.Cause.Cause != CotInrogen || decoded.CommonAddr != 1 {
		t.Fatalf("identifier mismatch: %+v", decoded.Identifier)
	}
	objs, err := decoded.DecodeObjects()
	if err != nil {
		t.Fatalf("DecodeObjects: %v", err)
	}
	if len(objs) != 2 || objs[0].Address != 100 || objs[1].Address != 200 {
		t.Fatalf("unexpected objects: %+v", objs)
	}
	v1, q1 := DecodeSinglePoint(objs[0].Body)
	if v1 != SPIOn || q1 != QDSGood {
		t.Errorf("object 1 = (%v, %v), want (on, good)", v1, q1)
	}
	v2, q2 := DecodeSinglePoint(objs[1].Body)
	if v2 != SPIOff || q2 != QDSInvalid {
		t.Errorf("object 2 = (%v, %v), want (off, invalid)", v2, q2)
	}
}

func TestASDURoundTripNormalizedSequence(t *testing.T) {
	params := testParams()
	a := NewASDU(params, Identifier{
		Type:       MMeNa1,
		Cause:      CauseOfTransmission{Cause: CotSpontaneous},
		CommonAddr: 7,
	})
	vals := []Normalize{NormalizeFromFloat(0.5), NormalizeFromFloat(-0.25), NormalizeFromFloat(0)}
	bodies := make([][]byte, len(vals))
	for i, v := range vals {
		bodies[i] = MeasuredNormalizedBody(v, QDSGood)
	}
	if err := a.AppendSequence(10, bodies...); err != nil {
		t.Fatalf("AppendSequence: %v", err)
	}
	raw, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	decoded, err := ParseASDU(params, raw)
	if err != nil {
		t.Fatalf("ParseASDU: %v", err)
	}
	if !decoded.Variable.IsSequence || decoded.Variable.Number != 3 {
		t.Fatalf("unexpected VSQ: %+v", decoded.Variable)
	}
	objs, err := decoded.DecodeObjects()
	if err != nil {
		t.Fatalf("DecodeObjects: %v", err)
	}
	for i, o := range objs {
		if o.Address != IOA(10+i) {
			t.Errorf("object %d address = %d, want %d", i, o.Address, 10+i)
		}
		got, _ := DecodeMeasuredNormalized(o.Body)
		if got != vals[i] {
			t.Errorf("object %d value = %d, want %d", i, got, vals[i])
		}
	}
}

func TestASDURoundTripTimedMeasurement(t *testing.T) {
	params := testParams()
	a := NewASDU(params, Identifier{
		Type:       MMeTd1,
		Cause:      CauseOfTransmission{Cause: CotSpontaneous},
		CommonAddr: 1,
	})
	body := MeasuredNormalizedBody(NormalizeFromFloat(0.75), QDSGood)
	tag := SetCP56Time2a(time.Date(2024, time.January, 15, 12, 34, 56, 789_000_000, time.UTC))
	body = AppendCP56(body, tag)

	if err := a.AppendObjects(InfoObj{Address: 5, Body: body}); err != nil {
		t.Fatalf("AppendObjects: %v", err)
	}
	raw, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	decoded, err := ParseASDU(params, raw)
	if err != nil {
		t.Fatalf("ParseASDU: %v", err)
	}
	objs, err := decoded.DecodeObjects()
	if err != nil {
		t.Fatalf("DecodeObjects: %v", err)
	}
	base, cp24, cp56 := SplitTimeTag(MMeTd1, objs[0].Body)
	if cp24 != nil {
		t.Fatalf("expected no CP24 tag on M_ME_TD_1")
	}
	if cp56 == nil || *cp56 != tag {
		t.Fatalf("time tag mismatch: got %+v, want %+v", cp56, tag)
	}
	v, _ := DecodeMeasuredNormalized(base)
	if want := NormalizeFromFloat(0.75); v != want {
		t.Errorf("value = %d, want %d", v, want)
	}
}

func TestSingleCommandSelectThenExecute(t *testing.T) {
	params := testParams()
	build := func(selectOnly bool) *ASDU {
		a := NewASDU(params, Identifier{
			Type:       CScNa1,
			Cause:      CauseOfTransmission{Cause: CotActivation},
			CommonAddr: 1,
		})
		body := SingleCommandBody(SingleCommand{Value: SPIOn, Qual: 0, SelectOnly: selectOnly})
		if err := a.AppendObjects(InfoObj{Address: 1000, Body: body}); err != nil {
			t.Fatalf("AppendObjects: %v", err)
		}
		return a
	}

	selectASDU := build(true)
	executeASDU := build(false)

	for name, a := range map[string]*ASDU{"select": selectASDU, "execute": executeASDU} {
		raw, err := a.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: MarshalBinary: %v", name, err)
		}
		decoded, err := ParseASDU(params, raw)
		if err != nil {
			t.Fatalf("%s: ParseASDU: %v", name, err)
		}
		objs, err := decoded.DecodeObjects()
		if err != nil {
			t.Fatalf("%s: DecodeObjects: %v", name, err)
		}
		cmd := DecodeSingleCommand(objs[0].Body)
		want := name == "select"
		if cmd.SelectOnly != want {
			t.Errorf("%s: SelectOnly = %v, want %v", name, cmd.SelectOnly, want)
		}
	}
}

func TestInterrogationCmdRoundTrip(t *testing.T) {
	params := testParams()
	params.SizeOfCOT = 2
	a, err := NewInterrogationCmd(params, 1, QOIStation)
	if err != nil {
		t.Fatalf("NewInterrogationCmd: %v", err)
	}
	raw, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	// C_IC_NA_1, COT=6 with originator 0, CA=1, IOA=0, QOI=20 at
	// widths 1/1/2/2/3: 64 01 06 00 01 00 00 00 00 14
	want := []byte{0x64, 0x01, 0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x14}
	if !reflect.DeepEqual(raw, want) {
		t.Fatalf("wire bytes = % X, want % X", raw, want)
	}

	decoded, err := ParseASDU(params, raw)
	if err != nil {
		t.Fatalf("ParseASDU: %v", err)
	}
	qoi, err := DecodeInterrogationCmd(decoded)
	if err != nil {
		t.Fatalf("DecodeInterrogationCmd: %v", err)
	}
	if qoi != QOIStation {
		t.Errorf("qoi = %d, want %d", qoi, QOIStation)
	}
}

func TestAppendObjectsRejectsWrongBodySize(t *testing.T) {
	params := testParams()
	a := NewASDU(params, Identifier{Type: MSpNa1, CommonAddr: 1})
	err := a.AppendObjects(InfoObj{Address: 1, Body: []byte{0, 0, 0}})
	if err == nil {
		t.Fatalf("expected an error for a wrong-sized SIQ body")
	}
}

func TestAppendObjectsRejectsTooManyObjects(t *testing.T) {
	params := testParams()
	a := NewASDU(params, Identifier{Type: MSpNa1, CommonAddr: 1})
	objs := make([]InfoObj, 128)
	for i := range objs {
		objs[i] = InfoObj{Address: IOA(i), Body: SinglePointBody(SPIOn, QDSGood)}
	}
	if err := a.AppendObjects(objs...); err == nil {
		t.Fatalf("expected an error for 128 objects (max 127)")
	}
}
