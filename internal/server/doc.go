// Package server hosts the Fiber forward proxy that intercepts every client
// request and hands it to the claimed cache controller. Until a controller has
// activated and claimed clients, requests go straight to the network. The
// package also owns the shared upstream http.Client and the request-ID and
// recover middlewares; diagnostics endpoints live in the routes subpackage.
package server
