package ilppacket

// Standard Reject codes used by the packet handler, per the error-code
// mapping table.
const (
	CodeMalformedPrepare       = "F01"
	CodeNoRoute                = "F02"
	CodeInvalidFulfillment     = "F05"
	CodeApplicationError       = "F99"
	CodeInsufficientCredit     = "T04"
	CodePeerUnreachable        = "T01"
	CodeInternal               = "T00"
	CodeExpired                = "R00"
	CodeOutboundWindowTooSmall = "R02"
)

// isValidRejectCode reports whether code matches the grammar
// [FTR][0-9][0-9].
func isValidRejectCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	switch code[0] {
	case 'F', 'T', 'R':
	default:
		return false
	}
	return code[1] >= '0' && code[1] <= '9' && code[2] >= '0' && code[2] <= '9'
}

// NormalizeCode returns code unchanged if it matches the standard
// [FTR][0-9][0-9] grammar, otherwise it returns CodeApplicationError, per
// the handling of unknown downstream Reject codes.
func NormalizeCode(code string) string {
	if isValidRejectCode(code) {
		return code
	}
	return CodeApplicationError
}
