package util

import (
	"encoding/json"
	"net/http"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"go.uber.org/zap"
)

// Response is the JSON envelope every HTTP endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes data inside a success envelope.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

// WriteError maps err through the domain error taxonomy and writes a failure
// envelope. Unknown errors are logged and reported without their text.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := types.HTTPStatus(err)
	code := types.ErrorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Sugar().Errorw("Request failed", "error", err)
		}
		message = "internal server error"
	}
	WriteFailure(w, status, code, message)
}

// WriteFailure writes a failure envelope with an explicit status and code.
func WriteFailure(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: false, Code: code, Message: message})
}
