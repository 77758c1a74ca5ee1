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
	"context"
	"net/http"

	"github.com/go-chi/render"
	"github.com/googleapis/tabular-toolbox/internal/azureas"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

func serverDetailsHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	ctrl, err := sourceController(s, r)
	if err != nil {
		return err
	}
	details, err := ctrl.Details(r.Context())
	if err != nil {
		return err
	}
	render.JSON(w, r, serverResponse(details, nil))
	return nil
}

func serverPauseHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	return transitionHandler(s, w, r, (*azureas.Controller).Pause)
}

func serverResumeHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	return transitionHandler(s, w, r, (*azureas.Controller).Resume)
}

func transitionHandler(s *Server, w http.ResponseWriter, r *http.Request, fn func(*azureas.Controller, context.Context) (bool, error)) error {
	ctrl, err := sourceController(s, r)
	if err != nil {
		return err
	}
	reached, err := fn(ctrl, r.Context())
	if err != nil {
		return err
	}
	details, err := ctrl.Details(r.Context())
	if err != nil {
		return err
	}
	render.JSON(w, r, serverResponse(details, &reached))
	return nil
}

type scaleRequest struct {
	SKU      string `json:"sku"`
	Capacity int32  `json:"capacity"`
}

func serverScaleHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	ctrl, err := sourceController(s, r)
	if err != nil {
		return err
	}
	var req scaleRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.SKU == "" {
		return util.NewConfigurationError("sku is required", nil)
	}
	details, err := ctrl.Scale(r.Context(), req.SKU, req.Capacity)
	if err != nil {
		return err
	}
	render.JSON(w, r, serverResponse(details, nil))
	return nil
}

func serverResponse(details azureas.Server, reached *bool) map[string]any {
	out := map[string]any{"server": details, "online": details.IsOnline()}
	if reached != nil {
		out["reached"] = *reached
	}
	return out
}
