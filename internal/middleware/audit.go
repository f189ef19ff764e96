// audit.go provides Gin middleware that records authenticated credential
// operations to the audit trail, with optional shipping to external audit
// destinations.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/assetdock/assetdock/internal/audit"
	"github.com/assetdock/assetdock/internal/db/models"
	"github.com/assetdock/assetdock/internal/db/repositories"
	"github.com/assetdock/assetdock/internal/safego"
)

// Context keys through which handlers annotate the audit record for their
// request. AuditResourceIDKey should hold the id of the connection, mapping,
// or vault item the operation touched.
const (
	AuditResourceTypeKey = "audit_resource_type"
	AuditResourceIDKey   = "audit_resource_id"
)

// auditAction derives the audit action name from the matched route. Unknown
// routes fall back to "METHOD path".
func auditAction(method, routePath string) string {
	switch {
	case strings.HasSuffix(routePath, "/credentials/connect") && method == "POST":
		return "credentials.connected"
	case strings.HasSuffix(routePath, "/credentials/disconnect"):
		return "credentials.disconnected"
	case strings.HasSuffix(routePath, "/credentials/mappings") && method == "POST":
		return "credentials.mapping_created"
	case strings.HasSuffix(routePath, "/credentials/mappings") && method == "DELETE":
		return "credentials.mapping_deleted"
	case strings.HasSuffix(routePath, "/credentials/reveal"):
		return "credentials.revealed"
	default:
		return method + " " + routePath
	}
}

// AuditMiddleware records successful write operations to the database only.
func AuditMiddleware(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return AuditMiddlewareWithShipper(auditRepo, nil)
}

// AuditMiddlewareWithShipper records successful write operations to the
// database and ships them to external destinations. Writes are asynchronous:
// a slow audit sink must not add latency to credential operations. The
// synchronous, unconditional record of each reveal is the structured log
// line emitted by the service layer; this middleware adds the durable copy.
func AuditMiddlewareWithShipper(auditRepo *repositories.AuditRepository, shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == "OPTIONS" || c.Request.Method == "GET" {
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}

		userID := GetUserID(c)
		if userID == "" {
			return
		}

		routePath := c.FullPath()
		if routePath == "" {
			routePath = c.Request.URL.Path
		}

		ipAddress := c.ClientIP()
		entry := &models.AuditLog{
			UserID:    &userID,
			Action:    auditAction(c.Request.Method, routePath),
			IPAddress: &ipAddress,
			Metadata: map[string]interface{}{
				"status_code": c.Writer.Status(),
			},
		}

		if rt, ok := c.Get(AuditResourceTypeKey); ok {
			if s, ok := rt.(string); ok && s != "" {
				entry.ResourceType = &s
			}
		}
		if rid, ok := c.Get(AuditResourceIDKey); ok {
			if s, ok := rid.(string); ok && s != "" {
				entry.ResourceID = &s
			}
		}

		statusCode := c.Writer.Status()

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if auditRepo != nil {
				if err := auditRepo.CreateAuditLog(ctx, entry); err != nil {
					slog.Error("failed to write audit log", "action", entry.Action, "error", err)
				}
			}

			if shipper != nil {
				shipped := &audit.LogEntry{
					Timestamp:  time.Now().UTC(),
					Action:     entry.Action,
					UserID:     userID,
					IPAddress:  ipAddress,
					StatusCode: statusCode,
					Metadata:   entry.Metadata,
				}
				if entry.ResourceType != nil {
					shipped.ResourceType = *entry.ResourceType
				}
				if entry.ResourceID != nil {
					shipped.ResourceID = *entry.ResourceID
				}

				if err := shipper.Ship(ctx, shipped); err != nil {
					slog.Error("failed to ship audit log", "action", entry.Action, "error", err)
				}
			}
		})
	}
}
