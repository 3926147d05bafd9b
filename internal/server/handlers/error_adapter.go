package handlers

import (
	"net/http"

	apperrors "github.com/llmgate/llmgate/internal/errors"
)

type errorResponder func(http.ResponseWriter, *http.Request, error)

// httpErrorResponder writes every handler error; the server swaps in its own
// so chain failures and routing errors share one envelope path.
var httpErrorResponder errorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder installs responder; nil restores the envelope default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
