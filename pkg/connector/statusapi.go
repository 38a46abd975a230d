// Copyright 2024-2026 Aiku AI

package connector

import (
	"embed"
	"html/template"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-groupfwd/pkg/connector/qrfmt"
)

//go:embed templates/*.html
var templateFS embed.FS

var statusTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const restartResponse = `Client restarted successfully. <a href="/messages">Go back to messages</a>`

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	StatusSnapshot
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

// Router builds the status server handler. Every route answers 200 with
// best-effort content; nothing is reported as an HTTP error.
func (rc *RelayConnector) Router() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(rc.log.With().Str("component", "status_api").Logger()))
	router.Use(cors.New(rc.corsConfig()))
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.SetHTMLTemplate(statusTemplates)

	router.GET("/qr", rc.handleQR)
	router.GET("/qr.png", rc.handleQRImage)
	router.GET("/messages", rc.handleMessages)
	router.GET("/restart", rc.handleRestart)
	router.GET("/status", rc.handleStatus)
	return router
}

func (rc *RelayConnector) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Accept", "Cache-Control", "Accept-Encoding"},
		MaxAge:       12 * time.Hour,
	}
	origins := rc.Config.HTTP.CORSOrigins
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Handled status request")
	}
}

func (rc *RelayConnector) handleQR(c *gin.Context) {
	var src template.URL
	if code, _ := rc.State.PairingCode(); code != "" {
		dataURL, err := qrfmt.DataURL(code, rc.Config.Pairing.ImageSize)
		if err != nil {
			rc.log.Err(err).Msg("Failed to render pairing code")
		} else {
			src = template.URL(dataURL)
		}
	}
	c.HTML(http.StatusOK, "qr.html", gin.H{"QRCode": src})
}

func (rc *RelayConnector) handleQRImage(c *gin.Context) {
	code, _ := rc.State.PairingCode()
	if code == "" {
		c.Status(http.StatusNoContent)
		return
	}
	data, err := qrfmt.PNG(code, rc.Config.Pairing.ImageSize)
	if err != nil {
		rc.log.Err(err).Msg("Failed to render pairing code")
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (rc *RelayConnector) handleMessages(c *gin.Context) {
	c.HTML(http.StatusOK, "messages.html", gin.H{
		"State":   rc.State.State(),
		"Entries": rc.State.Logs(),
	})
}

func (rc *RelayConnector) handleRestart(c *gin.Context) {
	rc.Restart()
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(restartResponse))
}

func (rc *RelayConnector) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		StatusSnapshot: rc.State.Snapshot(),
		Source:         rc.Config.Forward.Source,
		Targets:        rc.Config.Forward.Targets,
	})
}
