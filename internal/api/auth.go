package api

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/config"
)

// operatorGate guards the privileged endpoints (/move, /undo, /reset) with a
// single basic-auth credential pair. A nil or empty gate admits everyone.
type operatorGate struct {
	user string
	pass string
}

var auth *operatorGate

// InitAuth resolves KAMISHIBAI_OPERATOR_USER and KAMISHIBAI_OPERATOR_PASSWORD
// (the *_FILE convention applies). With either missing the gate stays open
// and a warning is logged.
func InitAuth() {
	user, pass, err := config.OperatorCredentials()
	if err != nil {
		logger.Fatal("failed to resolve operator credentials", zap.Error(err))
	}
	if user == "" || pass == "" {
		logger.Warn("operator auth disabled: KAMISHIBAI_OPERATOR_USER/PASSWORD not set")
		auth = &operatorGate{}
		return
	}
	auth = &operatorGate{user: user, pass: pass}
}

// IsAuthEnabled reports whether the operator endpoints demand credentials.
func IsAuthEnabled() bool {
	return auth != nil && auth.user != "" && auth.pass != ""
}

func (g *operatorGate) admit(r *http.Request) bool {
	if g == nil || g.user == "" || g.pass == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && constantTimeEqual(user, g.user) && constantTimeEqual(pass, g.pass)
}

// constantTimeEqual compares credential strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireOperator wraps a handler behind the operator gate.
func RequireOperator(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.admit(r) {
			handler(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="kamishibai"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}
