package ezoph

import (
	"fmt"
)

// Status is the first byte of every response frame.
type Status byte

// Response codes from the EZO I2C datasheet.
const (
	StatusSuccess         Status = 0x01
	StatusSyntaxError     Status = 0x02
	StatusStillProcessing Status = 0xFE
	StatusNoData          Status = 0xFF
)

// endMarker terminates the ASCII payload of a response frame.
const endMarker byte = 0x00

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSyntaxError:
		return "syntax error"
	case StatusStillProcessing:
		return "still processing"
	case StatusNoData:
		return "no data to send"
	default:
		return fmt.Sprintf("unknown status 0x%02x", byte(s))
	}
}

// response is a decoded response frame.
type response struct {
	status  Status
	payload []byte
}

// ok reports whether the frame carries data.
func (r response) ok() bool {
	return r.status == StatusSuccess
}

// decodeResponse splits a raw frame into its status and payload. The payload runs from the
// byte after the status up to the end marker or the end of the buffer, and is empty for any
// status other than success.
func decodeResponse(buf []byte) response {
	if len(buf) == 0 {
		return response{status: StatusNoData}
	}
	resp := response{status: Status(buf[0])}
	if !resp.ok() {
		return resp
	}
	for _, b := range buf[1:] {
		if b == endMarker {
			break
		}
		resp.payload = append(resp.payload, b)
	}
	return resp
}

// asciiPayload returns the payload as a string, or false if it holds non-ASCII bytes.
func (r response) asciiPayload() (string, bool) {
	for _, b := range r.payload {
		if b > 0x7F {
			return "", false
		}
	}
	return string(r.payload), true
}
