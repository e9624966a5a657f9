// Package codec implements the Openepo wire format: OOK-PWM symbol framing
// and the big-endian, packed, discriminated-union message encoding carried
// inside it.
//
// A frame on the wire is a symbol stream:
//
//	[Delay] [Preamble: 7x '0'] [SOF: '1'] [msg bytes, each prefixed by '1'] [EOF: '0']
//
// Symbol '0' is on for 1 unit, off for 2; symbol '1' is on for 2, off for 1.
// Recovering the physical unit duration (>=10us) from ADC samples is the
// concern of the radio/LED driver, not this package: Modulate and Demodulate
// operate on a PulseTrain already expressed in unit multiples.
//
// Message bytes are packed tightly MSB-first with no alignment padding.
// Fixed-size-element lists are count-prefixed; discriminated unions encode
// only the variant tag unless the union is declared extensible, in which
// case each element carries its own length prefix so an unrecognized
// variant can be skipped without desynchronizing the parse. The wire format
// carries a plaintext 4-byte session_id in every unencrypted header; this is
// a deliberate, spec-mandated departure from full transmitter anonymity (see
// the Open Questions in the design notes) and is not something this package
// can or should hide.
package codec
