package protocol

// SmartEncode and AutoDecode compose MessageCodec and CompressionCodec per
// spec §4.2: encode to Protobuf, then optionally compress; on decode,
// decompress first (if the format byte's compression bit is set) and decode
// second.

// EncodeHint carries the configuration smart_encode needs but which isn't
// part of the logical Request itself (spec §4.2's "hint" parameter): whether
// compression is enabled at all, and an optional forced algorithm (otherwise
// AlgoUnspecified lets the codec's adaptive picker choose).
type EncodeHint struct {
	CompressionEnabled bool
	ForceAlgorithm     Algorithm
}

// SmartEncode renders r to Protobuf bytes, then compresses them if hint
// enables compression, the payload exceeds codec's adaptive threshold, and
// the compressed form is strictly smaller. Returns the format byte to place
// in the frame and the final payload bytes.
func SmartEncode(codec *CompressionCodec, r *Request, hint EncodeHint) (formatByte uint8, payload []byte, err error) {
	encoded, err := EncodeRequest(r)
	if err != nil {
		return 0, nil, err
	}
	return smartCompress(codec, encoded, hint, FormatProtobuf)
}

// SmartEncodeResponse is SmartEncode's Response-side counterpart.
func SmartEncodeResponse(codec *CompressionCodec, resp *Response, hint EncodeHint) (formatByte uint8, payload []byte, err error) {
	encoded, err := EncodeResponse(resp)
	if err != nil {
		return 0, nil, err
	}
	return smartCompress(codec, encoded, hint, FormatProtobuf)
}

func smartCompress(codec *CompressionCodec, encoded []byte, hint EncodeHint, baseFormat uint8) (uint8, []byte, error) {
	if !hint.CompressionEnabled || !codec.ShouldAttempt(len(encoded)) {
		return baseFormat, encoded, nil
	}
	algo := hint.ForceAlgorithm
	if algo == AlgoUnspecified {
		algo = codec.PickAlgorithm(len(encoded))
	}
	compressed, err := codec.Compress(algo, encoded)
	if err != nil || len(compressed) >= len(encoded) {
		// Compression failed or didn't help: ship the uncompressed payload.
		// The failed/unhelpful attempt is still recorded by Compress, which
		// feeds the adaptive threshold.
		return baseFormat, encoded, nil
	}
	return baseFormat | FormatCompressed | FormatBitsFromAlgo(algo), compressed, nil
}

// AutoDecode reverses SmartEncode: decompresses (if the compression bit is
// set) then decodes according to bits 0–1. Returns the decoded Request.
func AutoDecode(codec *CompressionCodec, payload []byte, formatByte uint8) (*Request, error) {
	raw, err := autoDecompress(codec, payload, formatByte)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(raw)
}

// AutoDecodeResponse is AutoDecode's Response-side counterpart.
func AutoDecodeResponse(codec *CompressionCodec, payload []byte, formatByte uint8) (*Response, error) {
	raw, err := autoDecompress(codec, payload, formatByte)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(raw)
}

func autoDecompress(codec *CompressionCodec, payload []byte, formatByte uint8) ([]byte, error) {
	if formatByte&FormatCompressed == 0 {
		return payload, nil
	}
	algo := AlgoFromFormatBits(formatByte)
	return codec.Decompress(algo, payload)
}
