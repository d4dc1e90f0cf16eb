package rest

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
	"github.com/pkg/errors"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/logger"
)

// apiBase is embedded in every handler group, giving it a logger plus the JSON/Error response
// helpers every handler uses to talk back to the client.
type apiBase struct {
	logger.Log
}

// JSON marshals v to JSON and writes it with the given status code. The status is carried via
// render.Status so it ends up in the request context the same way chi/render's own helpers
// leave it, in case a later middleware wants to inspect what was sent. Escaping HTML is left on,
// matching encoding/json's default posture for anything that might end up rendered in a browser.
func (a *apiBase) JSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		a.Errorf("error encoding JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	render.Status(r, status)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	a.Tracef("JSON response: %s", buf.String())
	w.Write(buf.Bytes())
}

// Error writes err to the response as an ErrorDocument, inferring the status code from err if
// it (or something it wraps) is a gerror.Error, and defaulting to an opaque 500 otherwise so
// internal details never leak to a client.
func (a *apiBase) Error(w http.ResponseWriter, r *http.Request, err error) {
	a.Warnf("error handling %s %s: %v", r.Method, r.URL.Path, err)

	var gErr gerror.Error
	if !errors.As(err, &gErr) || gErr.Audience() != gerror.AudienceExternal {
		gErr = gerror.NewErrInternal()
	}
	a.JSON(w, r, gErr.HTTPStatusCode(), ErrorDocument{
		Code:           gErr.Code(),
		HTTPStatusCode: gErr.HTTPStatusCode(),
		Message:        gErr.Message(),
	})
}
