package asdu

// System-direction (control direction) commands: interrogation, counter
// interrogation, read, clock sync, test, reset process, delay
// acquisition. Each of these ASDUs carries exactly one information
// object, at IOA 0 except for the read command, which addresses the
// caller's IOA (spec.md §6 field catalog).

// NewInterrogationCmd builds a C_IC_NA_1 activation.
func NewInterrogationCmd(params *Params, ca CommonAddr, qoi QualifierOfInterrogation) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       CIcNa1,
		Cause:      CauseOfTransmission{Cause: CotActivation},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: 0, Body: []byte{byte(qoi)}}); err != nil {
		return nil, err
	}
	return a, nil
}

// DecodeInterrogationCmd reads the QOI back out of a C_IC_NA_1 ASDU.
func DecodeInterrogationCmd(a *ASDU) (QualifierOfInterrogation, error) {
	objs, err := a.DecodeObjects()
	if err != nil {
		return 0, err
	}
	return QualifierOfInterrogation(objs[0].Body[0]), nil
}

// NewCounterInterrogationCmd builds a C_CI_NA_1 activation.
func NewCounterInterrogationCmd(params *Params, ca CommonAddr, qcc QualifierOfCounterInterrogation) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       CCiNa1,
		Cause:      CauseOfTransmission{Cause: CotActivation},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: 0, Body: []byte{qcc.byte()}}); err != nil {
		return nil, err
	}
	return a, nil
}

func DecodeCounterInterrogationCmd(a *ASDU) (QualifierOfCounterInterrogation, error) {
	objs, err := a.DecodeObjects()
	if err != nil {
		return QualifierOfCounterInterrogation{}, err
	}
	return parseQCC(objs[0].Body[0]), nil
}

// NewClockSyncCmd builds a C_CS_NA_1 carrying a CP56Time2a.
func NewClockSyncCmd(params *Params, ca CommonAddr, t CP56Time2a) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       CCsNa1,
		Cause:      CauseOfTransmission{Cause: CotActivation},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: 0, Body: t[:]}); err != nil {
		return nil, err
	}
	return a, nil
}

func DecodeClockSyncCmd(a *ASDU) (CP56Time2a, error) {
	objs, err := a.DecodeObjects()
	if err != nil {
		return CP56Time2a{}, err
	}
	var t CP56Time2a
	copy(t[:], objs[0].Body)
	return t, nil
}

// NewReadCmd builds a C_RD_NA_1 request for the current value at ioa.
func NewReadCmd(params *Params, ca CommonAddr, ioa IOA) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       CRdNa1,
		Cause:      CauseOfTransmission{Cause: CotRequest},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: ioa, Body: nil}); err != nil {
		return nil, err
	}
	return a, nil
}

// NewTestCmd builds a C_TS_NA_1 link test, carrying the fixed test bit
// pattern 0x55 0xAA.
func NewTestCmd(params *Params, ca CommonAddr) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       CTsNa1,
		Cause:      CauseOfTransmission{Cause: CotActivation},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: 0, Body: []byte{0x55, 0xaa}}); err != nil {
		return nil, err
	}
	return a, nil
}

// NewResetProcessCmd builds a C_RP_NA_1.
func NewResetProcessCmd(params *Params, ca CommonAddr, qrp byte) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       CRpNa1,
		Cause:      CauseOfTransmission{Cause: CotActivation},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: 0, Body: []byte{qrp}}); err != nil {
		return nil, err
	}
	return a, nil
}

// NewEndOfInit builds an M_EI_NA_1, sent spontaneously by a station
// after (re)initialization.
func NewEndOfInit(params *Params, ca CommonAddr, coi COICause) (*ASDU, error) {
	a := NewASDU(params, Identifier{
		Type:       MEiNa1,
		Cause:      CauseOfTransmission{Cause: CotInitialized},
		CommonAddr: ca,
	})
	if err := a.AppendObjects(InfoObj{Address: 0, Body: EndOfInitBody(coi)}); err != nil {
		return nil, err
	}
	return a, nil
}
