package stun

import "encoding/binary"

// attrEncodeOrder is the fixed attribute order spec.md 4.3 mandates for
// the encoder, matching the mediasoup original's Serialize().
var attrEncodeOrder = []AttrType{
	AttrUsername,
	AttrPriority,
	AttrIceControlling,
	AttrIceControlled,
	AttrUseCandidate,
	AttrXorMappedAddress,
	AttrErrorCode,
}

// Builder assembles a Message for encoding. Attributes are added in any
// order and re-sorted into attrEncodeOrder by Encode.
type Builder struct {
	class         Class
	method        Method
	transactionID [12]byte
	attrs         map[AttrType]Attribute
	password      string // set by WithMessageIntegrity; empty means no MI
	addFingerprint bool
}

// NewBuilder starts a new message of the given class/method and
// transaction ID.
func NewBuilder(class Class, method Method, transactionID [12]byte) *Builder {
	return &Builder{
		class:         class,
		method:        method,
		transactionID: transactionID,
		attrs:         make(map[AttrType]Attribute),
	}
}

// Add sets a raw attribute value.
func (b *Builder) Add(t AttrType, value []byte) *Builder {
	b.attrs[t] = Attribute{Type: t, Value: value}
	return b
}

// AddUint32 sets a 4-byte big-endian attribute value.
func (b *Builder) AddUint32(t AttrType, v uint32) *Builder {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return b.Add(t, buf)
}

// AddUint64 sets an 8-byte big-endian attribute value.
func (b *Builder) AddUint64(t AttrType, v uint64) *Builder {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return b.Add(t, buf)
}

// AddFlag sets a zero-length attribute (e.g. USE-CANDIDATE).
func (b *Builder) AddFlag(t AttrType) *Builder {
	return b.Add(t, nil)
}

// WithMessageIntegrity requests that Encode append MESSAGE-INTEGRITY,
// HMAC-SHA1'd with password, immediately before FINGERPRINT.
func (b *Builder) WithMessageIntegrity(password string) *Builder {
	b.password = password
	return b
}

// WithFingerprint requests that Encode append FINGERPRINT last.
func (b *Builder) WithFingerprint() *Builder {
	b.addFingerprint = true
	return b
}

// Encode serializes the message: attributes in attrEncodeOrder, then
// MESSAGE-INTEGRITY (length field temporarily excluding the eventual
// FINGERPRINT while hashing), then FINGERPRINT computed over everything
// that precedes it — matching spec.md 4.3 and the mediasoup original's
// Serialize() bit for bit.
func (b *Builder) Encode() []byte {
	var body []byte
	for _, t := range attrEncodeOrder {
		a, ok := b.attrs[t]
		if !ok {
			continue
		}
		body = appendAttr(body, t, a.Value)
	}

	miLen := 0
	if b.password != "" {
		miLen = 4 + 20
	}
	fpLen := 0
	if b.addFingerprint {
		fpLen = 4 + 4
	}

	header := make([]byte, headerLength)
	binary.BigEndian.PutUint16(header[0:2], classMethodToType(b.class, b.method))
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], b.transactionID[:])

	if b.password != "" {
		// Length excludes the not-yet-appended FINGERPRINT while the
		// MESSAGE-INTEGRITY HMAC is computed, per spec.md 4.3.
		binary.BigEndian.PutUint16(header[2:4], uint16(len(body)+miLen))
		prefix := append(append([]byte{}, header...), body...)
		mi := hmacSHA1(b.password, prefix)
		body = appendAttr(body, AttrMessageIntegrity, mi)
	}

	if b.addFingerprint {
		binary.BigEndian.PutUint16(header[2:4], uint16(len(body)+fpLen))
		prefix := append(append([]byte{}, header...), body...)
		fp := computeFingerprint(prefix)
		fpVal := make([]byte, 4)
		binary.BigEndian.PutUint32(fpVal, fp)
		body = appendAttr(body, AttrFingerprint, fpVal)
	}

	binary.BigEndian.PutUint16(header[2:4], uint16(len(body)))
	return append(header, body...)
}

func appendAttr(body []byte, t AttrType, value []byte) []byte {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(t))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	body = append(body, hdr...)
	body = append(body, value...)
	if p := pad4(len(value)); p > 0 {
		body = append(body, make([]byte, p)...)
	}
	return body
}
