// Package server hosts the Fiber HTTP service that exposes the image cache to
// the reader UI and to operators: it builds the app with its middleware chain
// (recover, request ids, access logs, JSON errors) and the shared upstream
// http.Client used by the downloader. Route handlers live in server/routes
// and receive their dependencies explicitly.
package server
