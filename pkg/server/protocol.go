package server

import (
	"encoding/json"
	"fmt"

	"gocompile/pkg/pipeline"
)

// handle applies one request to a session store.
func handle(st *pipeline.Store, req Request) Response {
	var resp Response
	switch req.Op {
	case "setSource":
		resp.Changed = st.SetSource(req.Source)
	case "run":
		stage, err := pipeline.ParseStage(req.Stage)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Stage = stage.String()
		r, err := st.Run(stage)
		resp.Diagnostics = r.Diagnostics
		if err != nil {
			resp.Error = err.Error()
			break
		}
		if names := stage.Artifacts(); len(names) > 0 {
			resp.Name = names[0]
			resp.Artifact, _ = artifactJSON(st, names[0])
		}
	case "runAll":
		_, err := st.RunAll()
		resp.Diagnostics = st.AllDiagnostics()
		if err != nil {
			resp.Error = err.Error()
			resp.Stage = (st.State() + 1).String()
		}
	case "get":
		resp.Name = req.Artifact
		a, ok := artifactJSON(st, req.Artifact)
		if !ok {
			resp.Error = fmt.Sprintf("artifact %q is not computed", req.Artifact)
			break
		}
		resp.Artifact = a
	case "state":
	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
	}
	resp.State = st.State()
	return resp
}

func artifactJSON(st *pipeline.Store, name string) (json.RawMessage, bool) {
	data, ok := st.Artifact(name)
	if !ok {
		return nil, false
	}
	if !pipeline.IsText(name) {
		return data, true
	}
	b, err := json.Marshal(string(data))
	if err != nil {
		return nil, false
	}
	return b, true
}
