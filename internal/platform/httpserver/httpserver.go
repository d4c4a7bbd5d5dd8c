// Package httpserver constructs the process http.Server.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server. WriteTimeout stays generous because issuance and
// revocation block until the ledger transaction is mined.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}
}
