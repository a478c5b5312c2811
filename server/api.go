package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/geom"
	"github.com/cyclopcam/labeler/pkg/session"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Maximum size of a JSON request body
const maxBodyBytes = 16 * 1024 * 1024

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	handle("POST", "/api/docs", s.httpDocCreate)
	handle("GET", "/api/docs/:id", s.httpDocGet)
	handle("DELETE", "/api/docs/:id", s.httpDocClose)
	handle("POST", "/api/docs/:id/open", s.httpDocOpen)
	handle("POST", "/api/docs/:id/navigate/:dir", s.httpDocNavigate)
	handle("POST", "/api/docs/:id/goto/:index", s.httpDocGoto)
	handle("POST", "/api/docs/:id/labels", s.httpDocAddLabel)
	handle("PUT", "/api/docs/:id/labels/:index", s.httpDocEditLabel)
	handle("DELETE", "/api/docs/:id/labels/:index", s.httpDocRemoveLabel)
	handle("DELETE", "/api/docs/:id/labels", s.httpDocClearLabels)
	handle("POST", "/api/docs/:id/undo", s.httpDocUndo)
	handle("POST", "/api/docs/:id/redo", s.httpDocRedo)
	handle("POST", "/api/docs/:id/save", s.httpDocSave)
	handle("POST", "/api/docs/:id/revert", s.httpDocRevert)
	handle("POST", "/api/docs/:id/predict", s.httpDocPredict)
	handle("GET", "/api/docs/:id/events", s.httpDocEvents)

	handle("GET", "/api/classes", s.httpClassList)
	handle("POST", "/api/classes", s.httpClassAdd)
	handle("PUT", "/api/classes/:id", s.httpClassUpdate)
	handle("DELETE", "/api/classes/:id", s.httpClassRemove)

	router.Handler("GET", "/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	s.httpRouter = router
	return nil
}

// httpStatus picks the HTTP status code for an error returned by a session or the registry
func httpStatus(err error) int {
	var ioErr *session.IOError
	switch {
	case errors.As(err, &ioErr):
		if errors.Is(err, os.ErrNotExist) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case errors.Is(err, classes.ErrNotFound),
		errors.Is(err, session.ErrNoMoreItems),
		errors.Is(err, session.ErrNoSuchLabel):
		return http.StatusNotFound
	case errors.Is(err, classes.ErrDuplicateName),
		errors.Is(err, classes.ErrInUse),
		errors.Is(err, classes.ErrIDUnavailable),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrUnsavedChanges),
		errors.Is(err, session.ErrNoDocument),
		errors.Is(err, session.ErrNoImage),
		errors.Is(err, session.ErrNoPredictor):
		return http.StatusConflict
	case errors.Is(err, codec.ErrFormat),
		errors.Is(err, codec.ErrUnmappedClass),
		errors.Is(err, codec.ErrMissingContext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, classes.ErrInvalidName),
		errors.Is(err, annotation.ErrInvalid),
		errors.Is(err, geom.ErrDegenerate):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// check panics with an HTTP error if err is not nil
func check(err error) {
	if err != nil {
		panic(www.Error(httpStatus(err), err.Error()))
	}
}
