// Package server implements the GameHub HTTP API and realtime websocket
// service.
//
// The Hub goroutine owns every connection and the session controller; the
// Client pumps and HTTP handlers reach it only through channels. REST handlers
// for accounts, characters and administration live on an unexported api type
// and are mounted by NewRouter.
package server
