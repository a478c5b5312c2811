package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/session"
	"github.com/cyclopcam/www"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

type openRequestJSON struct {
	Path string `json:"path"`
}

type docResponseJSON struct {
	ID       uuid.UUID         `json:"id"`
	Snapshot *session.Snapshot `json:"snapshot"`
}

type addLabelResponseJSON struct {
	Index    int               `json:"index"`
	Snapshot *session.Snapshot `json:"snapshot"`
}

func (s *Server) getDocumentOrPanic(p httprouter.Params) *session.Controller {
	id, err := uuid.Parse(p.ByName("id"))
	if err != nil {
		www.PanicBadRequestf("Invalid document id '%v'", p.ByName("id"))
	}
	c, ok := s.getDocument(id)
	if !ok {
		panic(www.Error(http.StatusNotFound, "Document not found"))
	}
	return c
}

func parseIndex(p httprouter.Params) int {
	i, err := strconv.Atoi(p.ByName("index"))
	if err != nil {
		www.PanicBadRequestf("Invalid index '%v'", p.ByName("index"))
	}
	return i
}

func readOpenRequest(w http.ResponseWriter, r *http.Request) string {
	req := openRequestJSON{}
	www.ReadJSON(w, r, &req, maxBodyBytes)
	if req.Path == "" {
		www.PanicBadRequestf("path is required")
	}
	return req.Path
}

func (s *Server) httpDocCreate(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	path := readOpenRequest(w, r)
	id, c, err := s.newDocument()
	check(err)
	if err := c.Open(path); err != nil {
		s.closeDocument(id)
		check(err)
	}
	s.Log.Infof("Document %v opened %v", id, path)
	www.SendJSON(w, &docResponseJSON{ID: id, Snapshot: c.Snapshot()})
}

func (s *Server) httpDocGet(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	www.SendJSON(w, c.Snapshot())
}

// Unsaved changes are discarded
func (s *Server) httpDocClose(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := uuid.Parse(p.ByName("id"))
	if err != nil {
		www.PanicBadRequestf("Invalid document id '%v'", p.ByName("id"))
	}
	if !s.closeDocument(id) {
		panic(www.Error(http.StatusNotFound, "Document not found"))
	}
	www.SendOK(w)
}

func (s *Server) httpDocOpen(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.Open(readOpenRequest(w, r)))
	www.SendJSON(w, c.Snapshot())
}

// dir is 'next', 'prev', or 'unlabeled'
func (s *Server) httpDocNavigate(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	if p.ByName("dir") == "unlabeled" {
		check(c.NextUnlabeled())
	} else {
		dir, err := session.ParseDirection(p.ByName("dir"))
		if err != nil {
			www.PanicBadRequestf("%v", err)
		}
		check(c.Navigate(dir))
	}
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocGoto(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.Goto(parseIndex(p)))
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocAddLabel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	rec := annotation.Record{}
	www.ReadJSON(w, r, &rec, maxBodyBytes)
	index, err := c.AddLabel(rec)
	check(err)
	www.SendJSON(w, &addLabelResponseJSON{Index: index, Snapshot: c.Snapshot()})
}

func (s *Server) httpDocEditLabel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	index := parseIndex(p)
	rec := annotation.Record{}
	www.ReadJSON(w, r, &rec, maxBodyBytes)
	check(c.EditLabel(index, rec))
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocRemoveLabel(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.RemoveLabel(parseIndex(p)))
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocClearLabels(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.ClearLabels())
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocUndo(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.Undo())
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocRedo(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.Redo())
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocSave(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	if err := c.Save(); err != nil {
		s.metrics.SaveFailures.Inc()
		check(err)
	}
	www.SendJSON(w, c.Snapshot())
}

func (s *Server) httpDocRevert(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	check(c.Revert())
	www.SendJSON(w, c.Snapshot())
}

// Starts a prediction, and returns immediately with 202 Accepted.
// The result arrives on the events websocket.
// With ?wait=1, the request blocks until the prediction is finished, and returns the result.
// A client that disconnects while waiting cancels the prediction.
func (s *Server) httpDocPredict(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	c := s.getDocumentOrPanic(p)
	if www.QueryValue(r, "wait") != "1" {
		check(c.RunPrediction(context.Background(), nil))
		w.WriteHeader(http.StatusAccepted)
		return
	}
	done := make(chan session.PredictionResult, 1)
	check(c.RunPrediction(r.Context(), func(res session.PredictionResult) { done <- res }))
	res := <-done
	www.SendJSON(w, &res)
}
