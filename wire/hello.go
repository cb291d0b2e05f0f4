package wire

import "encoding/binary"

// Feature is a HELLO negotiation bit (spec.md §6).
type Feature uint16

const (
	FeatureXError         Feature = 0x07
	FeatureXAttr          Feature = 0x06
	FeatureCollections    Feature = 0x12
	FeatureMutationSeqno  Feature = 0x04
	FeatureTracing        Feature = 0x0f
	FeatureSnappy         Feature = 0x0a
	FeatureSelectBucket   Feature = 0x08
)

// HelloFeatures is the set of features a connection has negotiated.
type HelloFeatures struct {
	XError         bool
	XAttr          bool
	Collections    bool
	MutationSeqno  bool
	Tracing        bool
	Snappy         bool
	SelectBucket   bool
}

// ParseHello decodes the sequence of big-endian uint16 feature codes a
// client's HELLO payload requested, and returns the subset the server
// agrees to support.
func ParseHello(payload []byte) HelloFeatures {
	var f HelloFeatures
	for i := 0; i+1 < len(payload); i += 2 {
		switch Feature(binary.BigEndian.Uint16(payload[i : i+2])) {
		case FeatureXError:
			f.XError = true
		case FeatureXAttr:
			f.XAttr = true
		case FeatureCollections:
			f.Collections = true
		case FeatureMutationSeqno:
			f.MutationSeqno = true
		case FeatureTracing:
			f.Tracing = true
		case FeatureSnappy:
			f.Snappy = true
		case FeatureSelectBucket:
			f.SelectBucket = true
		}
	}
	return f
}

// EncodeHelloReply serializes the negotiated features back as the
// big-endian uint16 list the client expects in the HELLO response body.
func EncodeHelloReply(f HelloFeatures) []byte {
	var codes []Feature
	if f.XError {
		codes = append(codes, FeatureXError)
	}
	if f.XAttr {
		codes = append(codes, FeatureXAttr)
	}
	if f.Collections {
		codes = append(codes, FeatureCollections)
	}
	if f.MutationSeqno {
		codes = append(codes, FeatureMutationSeqno)
	}
	if f.Tracing {
		codes = append(codes, FeatureTracing)
	}
	if f.Snappy {
		codes = append(codes, FeatureSnappy)
	}
	if f.SelectBucket {
		codes = append(codes, FeatureSelectBucket)
	}
	out := make([]byte, 2*len(codes))
	for i, c := range codes {
		binary.BigEndian.PutUint16(out[2*i:2*i+2], uint16(c))
	}
	return out
}
