package transport

// Serial link transports (RS-232/RS-485 for CS101) are out of scope for
// this module (see SPEC_FULL.md Non-goals): link101/master101/slave101
// each take a small Port interface (Read with a deadline, Write), so a
// serial implementation can be supplied by the embedder without
// touching the protocol engines.
