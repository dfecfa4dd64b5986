// Package qrscan implements the QR acquisition flow:
//
//	idle -> scanning -> validating -> success
//	            ^            |
//	            +-- error <--+   (after RetryDelay)
//
// Every decoded payload is checked locally by ValidatePayload before the
// remote exchange is called. The camera is released before the exchange and
// before every retry delay, so the flow never holds it while waiting.
package qrscan
