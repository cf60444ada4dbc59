package gitsync

import (
	"net/http"
	"time"

	"github.com/apim-gateway/gwbundle/internal/logging"
)

// LoggingTransport is an http.RoundTripper that logs the requests made to
// obtain git credentials. Headers and bodies are left out as they carry tokens.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *logging.Logger
}

// NewLoggingTransport creates a new LoggingTransport. If transport is nil,
// http.DefaultTransport is used; a nil logger discards everything.
func NewLoggingTransport(transport http.RoundTripper, logger *logging.Logger) *LoggingTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LoggingTransport{
		Transport: transport,
		Logger:    logger,
	}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debugf("%s %s failed after %v: %v", req.Method, req.URL.Redacted(), time.Since(start), err)
		return resp, err
	}
	t.Logger.Debugf("%s %s: %s in %v", req.Method, req.URL.Redacted(), resp.Status, time.Since(start))
	return resp, nil
}
