package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/meshgate/internal/client"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// maxProxyBodyBytes caps buffered request bodies
const maxProxyBodyBytes = 10 << 20

// ProxyHandler forwards requests to registered services through the
// resilient client
type ProxyHandler struct {
	client *client.Client
	logger *logging.Logger
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(c *client.Client, logger *logging.Logger) *ProxyHandler {
	return &ProxyHandler{client: c, logger: logger}
}

// Proxy handles any method on /proxy/:service/*path
func (h *ProxyHandler) Proxy(c *gin.Context) {
	service := c.Param("service")
	path := c.Param("path")
	if path == "" {
		path = "/"
	}
	if c.Request.URL.RawQuery != "" {
		path += "?" + c.Request.URL.RawQuery
	}

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBodyBytes))
		if err != nil {
			BadRequestResponse(c, "Failed to read request body")
			return
		}
	}

	headers := make(map[string]string)
	for _, name := range []string{"Content-Type", "Accept", "Authorization"} {
		if value := c.GetHeader(name); value != "" {
			headers[name] = value
		}
	}

	resp, err := h.client.Call(c.Request.Context(), service, c.Request.Method, path, body, &client.CallOptions{
		Headers: headers,
	})
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	c.Header("X-Upstream-Instance", resp.InstanceID)
	c.Header("X-Correlation-ID", resp.CorrelationID)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}
