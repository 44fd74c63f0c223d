package proxyserver

import (
	"encoding/json"
	"net/http"
)

// apiError is an error destined for the HTTP caller in OpenAI's
// {error:{message,type,code}} shape, optionally carrying X-Cortex-*
// headers from a kernel reply.
type apiError struct {
	Status  int
	Code    string
	Message string
	Headers http.Header
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func badRequest(code, message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: message}
}

func unauthorized(code, message string) *apiError {
	return &apiError{Status: http.StatusUnauthorized, Code: code, Message: message}
}

func badGateway(code, message string) *apiError {
	return &apiError{Status: http.StatusBadGateway, Code: code, Message: message}
}

func (e *apiError) withHeaders(h http.Header) *apiError {
	e.Headers = h
	return e
}

// openAIErrorBody mirrors the OpenAI client-facing error envelope.
type openAIErrorBody struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// write renders e to w, attaching any carried headers first.
func (e *apiError) write(w http.ResponseWriter) {
	for name, values := range e.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	errType := "invalid_request_error"
	if e.Status >= 500 {
		errType = "api_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(openAIErrorBody{
		Error: openAIErrorDetail{Message: e.Message, Type: errType, Code: e.Code},
	})
}

// writeJSON renders a success body with headers.
func writeJSON(w http.ResponseWriter, status int, headers http.Header, body any) {
	for name, values := range headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
