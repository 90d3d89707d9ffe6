package wire

import (
	"bytes"
	"testing"

	apperrors "github.com/skywire-client/fileengine/internal/errors"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0x42}, 10000),
	}
	for _, payload := range cases {
		encoded, err := Encode(5, 2, payload, 7)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(encoded) != Overhead+len(payload) {
			t.Fatalf("len(encoded) = %d, want %d", len(encoded), Overhead+len(payload))
		}
		res, err := TryParse(encoded)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if res.Outcome != OutcomeFrame {
			t.Fatalf("outcome = %v, want OutcomeFrame", res.Outcome)
		}
		if res.Frame.Command != 5 || res.Frame.Format != 2 || res.Frame.Seq != 7 {
			t.Fatalf("frame header mismatch: %+v", res.Frame)
		}
		if !bytes.Equal(res.Frame.Payload, payload) {
			t.Fatalf("payload mismatch")
		}
		if res.Consumed != len(encoded) {
			t.Fatalf("consumed = %d, want %d", res.Consumed, len(encoded))
		}
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxPayloadLen+1)
	_, err := Encode(1, 1, payload, 0)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if k, ok := apperrors.KindOf(err); !ok || k != apperrors.KindProtocol {
		t.Fatalf("kind = %v, want protocol_error", k)
	}
}

func TestEncodeAcceptsExactlyMaxPayload(t *testing.T) {
	payload := make([]byte, MaxPayloadLen)
	_, err := Encode(1, 1, payload, 0)
	if err != nil {
		t.Fatalf("unexpected error at exactly MaxPayloadLen: %v", err)
	}
}

func TestTryParseNeedMore(t *testing.T) {
	full, _ := Encode(1, 1, []byte("abcdef"), 1)
	for cut := 0; cut < len(full); cut++ {
		res, err := TryParse(full[:cut])
		if err != nil {
			t.Fatalf("cut=%d: unexpected error: %v", cut, err)
		}
		if res.Outcome != OutcomeNeedMore {
			t.Fatalf("cut=%d: outcome = %v, want OutcomeNeedMore", cut, res.Outcome)
		}
	}
}

func TestTryParseResync(t *testing.T) {
	full, _ := Encode(1, 1, []byte("payload"), 1)
	garbage := append([]byte{0x01, 0x02, 0x03}, full...)
	res, err := TryParse(garbage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeResync || res.ResyncSkip != 3 {
		t.Fatalf("got %+v, want resync skip 3", res)
	}
	res2, err := TryParse(garbage[res.ResyncSkip:])
	if err != nil {
		t.Fatalf("unexpected error after resync: %v", err)
	}
	if res2.Outcome != OutcomeFrame {
		t.Fatalf("expected a frame after resync, got %v", res2.Outcome)
	}
}

func TestTryParseBitFlipsSurfaceProtocolError(t *testing.T) {
	full, _ := Encode(3, 1, bytes.Repeat([]byte{0xAB}, 64), 42)

	// Flip a payload bit: checksum should fail.
	corruptPayload := append([]byte(nil), full...)
	corruptPayload[HeaderLen+5] ^= 0xFF
	if _, err := TryParse(corruptPayload); err == nil {
		t.Fatal("expected checksum error for flipped payload bit")
	} else if k, _ := apperrors.KindOf(err); k != apperrors.KindProtocol {
		t.Fatalf("kind = %v, want protocol_error", k)
	}

	// Flip the trailer.
	corruptTrailer := append([]byte(nil), full...)
	corruptTrailer[len(corruptTrailer)-1] ^= 0xFF
	if _, err := TryParse(corruptTrailer); err == nil {
		t.Fatal("expected trailer error")
	}

	// Flip magic (still same length, no valid magic elsewhere): NeedMore since
	// no magic bytes are found at all in this short buffer.
	corruptMagic := append([]byte(nil), full...)
	corruptMagic[0] ^= 0xFF
	res, err := TryParse(corruptMagic)
	if err != nil {
		// If magic happens to still be found (unlikely at offset>0 given this
		// payload pattern), that's also acceptable per spec: resync_skip.
		return
	}
	if res.Outcome != OutcomeNeedMore && res.Outcome != OutcomeResync {
		t.Fatalf("unexpected outcome for corrupted magic: %v", res.Outcome)
	}
}

func TestFrameLengthFormula(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01}, 1234)
	encoded, err := Encode(1, 1, payload, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) != 13+len(payload) {
		t.Fatalf("len(encoded) = %d, want %d", len(encoded), 13+len(payload))
	}
}
