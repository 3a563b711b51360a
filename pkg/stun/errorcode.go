package stun

// ErrorCode attribute values used by the ICE Server (spec.md 4.4).
const (
	ErrorCodeBadRequest    = 400
	ErrorCodeUnauthorized  = 401
	ErrorCodeRoleConflict  = 487
)

// EncodeErrorCode builds an ERROR-CODE attribute value for the given
// numeric code (e.g. 400, 401, 487) and reason phrase.
func EncodeErrorCode(code int, reason string) []byte {
	v := make([]byte, 4+len(reason))
	v[2] = byte(code / 100)
	v[3] = byte(code % 100)
	copy(v[4:], reason)
	return v
}
