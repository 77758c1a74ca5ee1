// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// EffectiveUserHeader carries the user a pass-through request runs as.
const EffectiveUserHeader = "X-Effective-User-Name"

const maxXMLABody = 32 << 20

// xmlaRouter creates a router that forwards raw XMLA envelopes under /xmla
func xmlaRouter(s *Server) (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(middleware.AllowContentType("text/xml", "application/xml", "application/soap+xml"))
	r.Post("/{source}", s.instrumented("xmla", xmlaHandler, renderFault))
	return r, nil
}

func xmlaHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxXMLABody))
	if err != nil {
		return util.NewConfigurationError("unable to read request body", err)
	}
	resp, err := c.SendXMLA(r.Context(), tabular.XmlaRequest{
		Body:              string(body),
		EffectiveUserName: r.Header.Get(EffectiveUserHeader),
	})
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = io.WriteString(w, resp)
	return nil
}

const soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

type soapFault struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	NS      string   `xml:"xmlns:soap,attr"`
	Fault   struct {
		Code   string `xml:"faultcode"`
		String string `xml:"faultstring"`
		Error  struct {
			Code        string `xml:"ErrorCode,attr"`
			Description string `xml:"Description,attr"`
			Source      string `xml:"Source,attr"`
		} `xml:"detail>Error"`
	} `xml:"soap:Body>soap:Fault"`
}

// renderFault answers a failed pass-through the way an XMLA endpoint would,
// so clients parse it with their usual fault handling.
func renderFault(w http.ResponseWriter, _ *http.Request, err error, status int) {
	code := string(util.CategoryOf(err))
	msg := err.Error()
	var execErr *util.ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Code != "" {
			code = execErr.Code
		}
		if execErr.ServerMessage != "" {
			msg = execErr.ServerMessage
		}
	}
	if code == "" {
		code = "INTERNAL"
	}

	var f soapFault
	f.NS = soapNS
	f.Fault.Code = "XMLAnalysisError." + code
	f.Fault.String = msg
	f.Fault.Error.Code = code
	f.Fault.Error.Description = msg
	f.Fault.Error.Source = "tabular-toolbox"
	out, mErr := xml.Marshal(f)
	if mErr != nil {
		http.Error(w, fmt.Sprintf("%s: %s", code, msg), status)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_, _ = w.Write(out)
}
