package httpx

import (
	"context"
	"net/http"
	"strconv"
)

// HeaderUserID carries the customer id resolved by the upstream gateway.
const HeaderUserID = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// Authenticate rejects requests without a valid X-User-ID and stores the id
// in the request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, message{Message: "Unauthenticated."})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// UserID returns the authenticated customer id, or 0 outside Authenticate.
func UserID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}
