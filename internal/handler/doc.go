// Package handler contains the HTTP request handlers of the code runner.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (body, headers)
// 2. Call the execution service
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers never touch Docker or the filesystem: they are the "glue" between
// HTTP and the execution pipeline.
package handler
