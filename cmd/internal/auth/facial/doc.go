// Package facial implements the facial acquisition flow:
//
//	idle -> requesting-camera -> capturing -> processing -> success | no-match | error
//
// The camera handle is owned by the flow and released on every exit path.
// Cancel bumps a generation counter; every continuation re-checks the
// generation under the flow mutex before touching state, so a late match
// response can never move the flow away from idle once cancelled.
//
// The match call has no client timeout. By default Cancel only suppresses its
// effect; WithAbortOnCancel(true) also cancels the request.
package facial
