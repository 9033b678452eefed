// Package handler contains the HTTP request handlers of the gateway.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc: a function with the right
// signature. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (form fields, cookies, query params)
// 2. Call the service layer (broker, guard, secret service)
// 3. Write the HTTP response (status code, headers, body or redirect)
//
// Handlers hold no business logic. Who may log in, how sessions are
// checked and what a secret is all live in internal/service.
package handler

import (
	"net/http"

	"github.com/sakif/secrets-gateway/internal/auth"
)

// Page describes a page the gateway would render. The gateway ships no
// templates; a front end renders these descriptors however it likes.
type Page struct {
	Page      string   `json:"page"`
	Action    string   `json:"action,omitempty"` // form target
	Method    string   `json:"method,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	Federated string   `json:"federated,omitempty"` // federated login entry point
	User      string   `json:"user,omitempty"`      // display name when logged in
}

// PageHandler serves the page descriptors.
type PageHandler struct {
	federated bool
}

// NewPageHandler creates a PageHandler. federated says whether the login
// and register pages should offer the federated entry point.
func NewPageHandler(federated bool) *PageHandler {
	return &PageHandler{federated: federated}
}

// HandleHome serves GET /.
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.page(r, Page{Page: "home"}))
}

// HandleLogin serves GET /login.
func (h *PageHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.credentialsPage(r, "login", pathLogin))
}

// HandleRegister serves GET /register.
func (h *PageHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.credentialsPage(r, "register", pathRegister))
}

// HandleSubmit serves GET /submit. The route is guarded, so the identity is
// always present.
func (h *PageHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.page(r, Page{
		Page:   "submit",
		Action: pathSubmit,
		Method: http.MethodPost,
		Fields: []string{"secret"},
	}))
}

func (h *PageHandler) credentialsPage(r *http.Request, name, action string) Page {
	p := Page{
		Page:   name,
		Action: action,
		Method: http.MethodPost,
		Fields: []string{"username", "password"},
	}
	if h.federated {
		p.Federated = pathFederated
	}
	return h.page(r, p)
}

func (h *PageHandler) page(r *http.Request, p Page) Page {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		p.User = id.Name
	}
	return p
}
