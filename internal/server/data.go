package server

import (
	"encoding/json"
	"io"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	return d.Decode(i)
}

type StartFlResponse struct {
	RunId string `json:"runId"`
}

type StopFlResponse struct {
	RunId  string `json:"runId"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
