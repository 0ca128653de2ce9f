package tagme

import "errors"

var (
	// ErrMissingToken is returned before any request is sent when neither the
	// call nor the client configuration carries a gcube token.
	ErrMissingToken = errors.New("tagme: gcube token is not configured; set Config.Token or pass WithToken")

	// ErrMalformedResponse wraps every failure to decode or validate a 200
	// response body.
	ErrMalformedResponse = errors.New("tagme: malformed response")

	// ErrNoPairs is returned by the relatedness calls for an empty pair list.
	ErrNoPairs = errors.New("tagme: no entity pairs given")
)
