package classify

import (
	"net/http"

	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/logging"
)

// Backend kinds. A yolo model is served over HTTP, so both build the same
// client.
const (
	BackendHTTP = "http"
	BackendYOLO = "yolo"
)

// NewBackend builds the backend named by kind. Unknown kinds fall back to the
// HTTP backend with a warning.
func NewBackend(kind string, cfg *config.Config) Backend {
	switch kind {
	case BackendHTTP, BackendYOLO, "":
	default:
		logging.Warnf("unknown inference backend %q, using %s", kind, BackendHTTP)
	}
	return NewHTTPBackend(cfg.InferenceURL, &http.Client{})
}
