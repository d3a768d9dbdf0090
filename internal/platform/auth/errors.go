package auth

import (
	"net/http"

	"github.com/hanko-field/orders/internal/platform/httpx"
)

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status).WithRetryable(status == http.StatusServiceUnavailable))
}
