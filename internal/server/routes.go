package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/models"
)

// maxUploadBytes caps an uploaded dataset.
const maxUploadBytes = 32 << 20

const twimlContentType = "text/xml; charset=utf-8"

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	api := router.Group("/api")
	api.POST("/upload_customers", handleUpload(opts))
	api.POST("/trigger_calls", handleTrigger(opts))
	api.POST("/retry_missed", handleRetry(opts))
	api.GET("/missed", handleMissed(opts))
	api.GET("/results", handleResults(opts))
	api.GET("/verified_numbers", handleVerifiedNumbers(opts))

	// Telephony callbacks arrive as GET or POST depending on the number's
	// configuration.
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		router.Handle(method, "/voice/:index", handleVoice(opts))
		router.Handle(method, "/recording/:index", handleRecording(opts))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

func handleUpload(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "No file part in the request.")
			return
		}
		if fh.Filename == "" {
			badRequest(c, "No selected file.")
			return
		}
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
			badRequest(c, "Only CSV files are allowed.")
			return
		}

		f, err := fh.Open()
		if err != nil {
			writeError(c, err, false)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		if err != nil {
			writeError(c, err, false)
			return
		}
		if len(data) > maxUploadBytes {
			badRequest(c, fmt.Sprintf("File exceeds %d MB.", maxUploadBytes>>20))
			return
		}

		contacts, err := ledger.ReadCSV(bytes.NewReader(data))
		if err != nil {
			writeError(c, err, true)
			return
		}
		if err := opts.Campaign.ReplaceContacts(c.Request.Context(), contacts); err != nil {
			writeError(c, err, false)
			return
		}
		if opts.InputCSV != "" {
			if err := os.WriteFile(opts.InputCSV, data, 0o644); err != nil {
				writeError(c, &ledger.DatasetIOError{Op: "write", Path: opts.InputCSV, Err: err}, false)
				return
			}
		}
		if opts.OutputCSV != "" {
			if err := opts.Campaign.Ledger().ExportCSV(c.Request.Context(), opts.OutputCSV); err != nil {
				log.Printf("server: refresh output dataset: %v", err)
			}
		}

		log.Printf("server: dataset uploaded (%s, %d contacts)", fh.Filename, len(contacts))
		c.JSON(http.StatusOK, gin.H{
			"status":   "success",
			"message":  "CSV uploaded and validated.",
			"contacts": len(contacts),
		})
	}
}

type passRequest struct {
	WebhookBaseURL string `json:"webhook_base_url"`
}

// passBaseURL picks the callback base for a pass. The configured public
// base URL wins over the caller's.
func passBaseURL(c *gin.Context, configured string) string {
	if configured != "" {
		return configured
	}
	var req passRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return req.WebhookBaseURL
}

// Passes started over HTTP run to completion even if the caller goes away.
func handleTrigger(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithoutCancel(c.Request.Context())
		report, err := opts.Campaign.TriggerCalls(ctx, passBaseURL(c, opts.PublicBaseURL))
		respondPass(c, report, err)
	}
}

func handleRetry(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithoutCancel(c.Request.Context())
		report, err := opts.Campaign.RetryMissed(ctx, passBaseURL(c, opts.PublicBaseURL))
		respondPass(c, report, err)
	}
}

// respondPass writes the pass report. A pass that started and then failed
// still answers with its report; only errors raised before the pass began
// become error responses.
func respondPass(c *gin.Context, report dispatch.Report, err error) {
	if err != nil && report.PassID == "" {
		writeError(c, err, false)
		return
	}
	if err != nil {
		log.Printf("server: %s %s: pass %s: %v", c.Request.Method, c.Request.URL.Path, report.PassID, err)
	}
	c.JSON(http.StatusOK, report)
}

func handleMissed(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := opts.Campaign.Missed(c.Request.Context())
		if err != nil {
			writeError(c, err, false)
			return
		}
		if entries == nil {
			entries = []models.MissedCall{}
		}
		c.JSON(http.StatusOK, gin.H{"count": len(entries), "missed": entries})
	}
}

func handleResults(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		contacts, err := opts.Campaign.Ledger().Load(c.Request.Context())
		if err != nil {
			writeError(c, err, false)
			return
		}

		if c.Query("format") == "csv" {
			var buf bytes.Buffer
			if err := ledger.WriteCSV(&buf, contacts); err != nil {
				writeError(c, err, false)
				return
			}
			c.Header("Content-Disposition", `attachment; filename="output.csv"`)
			c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
			return
		}
		if contacts == nil {
			contacts = []models.Contact{}
		}
		c.JSON(http.StatusOK, contacts)
	}
}

func handleVerifiedNumbers(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Provider == nil {
			writeError(c, &dispatch.ConfigurationError{
				Field: "credentials",
				Msg:   "telephony credentials are not configured",
			}, false)
			return
		}
		numbers, err := opts.Provider.ListVerifiedNumbers(c.Request.Context())
		if err != nil {
			log.Printf("server: list verified numbers: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": err.Error()})
			return
		}
		if numbers == nil {
			numbers = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"verified_numbers": numbers})
	}
}

func parseIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		badRequest(c, fmt.Sprintf("invalid contact index %q", c.Param("index")))
		return 0, false
	}
	return index, true
}

// requestRoot is the scheme and host the request was addressed to.
func requestRoot(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

func handleVoice(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := parseIndex(c)
		if !ok {
			return
		}
		base := opts.PublicBaseURL
		if base == "" {
			base = requestRoot(c)
		}
		twiml, err := opts.Machine.Answer(c.Request.Context(), index, base)
		if err != nil {
			writeError(c, err, false)
			return
		}
		c.Data(http.StatusOK, twimlContentType, []byte(twiml))
	}
}

func handleRecording(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := parseIndex(c)
		if !ok {
			return
		}
		field := c.Query
		if c.Request.Method == http.MethodPost {
			field = c.PostForm
		}
		rec := ledger.Recording{
			URL:      field("RecordingUrl"),
			Duration: field("RecordingDuration"),
			SID:      field("RecordingSid"),
		}
		twiml, err := opts.Machine.Record(c.Request.Context(), index, rec)
		if err != nil {
			writeError(c, err, false)
			return
		}
		c.Data(http.StatusOK, twimlContentType, []byte(twiml))
	}
}
