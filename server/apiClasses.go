package server

import (
	"net/http"
	"strconv"

	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type classRequestJSON struct {
	Name  string         `json:"name"`
	Color *classes.Color `json:"color"` // eg "#ff8000". Random if omitted when adding.
}

func parseClassID(p httprouter.Params) int {
	id, err := strconv.Atoi(p.ByName("id"))
	if err != nil {
		www.PanicBadRequestf("Invalid class id '%v'", p.ByName("id"))
	}
	return id
}

func (s *Server) httpClassList(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	www.SendJSON(w, s.reg.Classes())
}

func (s *Server) httpClassAdd(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	req := classRequestJSON{}
	www.ReadJSON(w, r, &req, maxBodyBytes)
	var id int
	var err error
	if req.Color == nil {
		id, err = s.reg.AddAuto(req.Name)
	} else {
		id, err = s.reg.Add(req.Name, *req.Color)
	}
	check(err)
	cls, err := s.reg.Resolve(id)
	check(err)
	www.SendJSON(w, &cls)
}

// Either field may be omitted
func (s *Server) httpClassUpdate(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := parseClassID(p)
	req := classRequestJSON{}
	www.ReadJSON(w, r, &req, maxBodyBytes)
	if req.Name != "" {
		check(s.reg.Rename(id, req.Name))
	}
	if req.Color != nil {
		check(s.reg.Recolor(id, *req.Color))
	}
	cls, err := s.reg.Resolve(id)
	check(err)
	www.SendJSON(w, &cls)
}

// ?policy=block|cascade|reassign&target=<id>
// Without a policy, the configured default is used.
func (s *Server) httpClassRemove(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := parseClassID(p)
	opt := classes.RemoveOptions{Policy: s.sessionCfg.ClassRemoval}
	if policy := www.QueryValue(r, "policy"); policy != "" {
		var err error
		opt.Policy, err = classes.ParseRemovePolicy(policy)
		if err != nil {
			www.PanicBadRequestf("%v", err)
		}
	}
	if opt.Policy == classes.RemoveReassign {
		target, err := strconv.Atoi(www.QueryValue(r, "target"))
		if err != nil {
			www.PanicBadRequestf("reassign requires a valid 'target' class id")
		}
		opt.Target = target
	}
	check(s.reg.Remove(id, opt))
	www.SendOK(w)
}
