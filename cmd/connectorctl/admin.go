package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ilpconnector/connector"
)

// newAdminRouter builds the read-only status HTTP surface: peers,
// routes, and a single account's balance. It is intentionally
// read-only; mutating the node's peers or routes happens through its
// config file and a restart, not this surface.
func newAdminRouter(node *connector.Node) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/peers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, node.ListPeers())
	})
	r.Get("/routes", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, node.ListRoutes())
	})
	r.Get("/accounts", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, node.ListAccounts())
	})
	r.Get("/accounts/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		snap, err := node.GetBalance(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, snap)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
