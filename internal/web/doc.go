// Package web serves the HTTP façade of the camera control server.
//
// Every route goes through the same dispatcher as the control protocol, so
// a command gives the same result whichever port it arrives on. Responses
// use one JSON envelope:
//
//	{"result": "ok", "data": ..., "correlationId": "..."}
//	{"result": "error", "code": "ArgumentError", "message": "...", "correlationId": "..."}
//
// The server also streams command and status events over SSE and accepts
// line-protocol commands over a WebSocket.
package web
