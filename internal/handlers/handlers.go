package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/line/line-bot-sdk-go/v7/linebot"
	"go.uber.org/zap"

	"github.com/example/leafdoctor/internal/repository"
	"github.com/example/leafdoctor/internal/usecase"
)

// Diagnoser is the slice of the use case the HTTP layer depends on.
type Diagnoser interface {
	HandleImage(ctx context.Context, ev usecase.ImageEvent) error
	RecentDiagnoses(ctx context.Context, limit int) ([]*repository.DiagnosisLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The webhook is
// verified through the SDK's signature check; the admin endpoints sit behind
// the JWT middleware.
func RegisterRoutes(router *gin.Engine, bot *linebot.Client, uc Diagnoser, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/callback", func(c *gin.Context) {
		events, err := bot.ParseRequest(c.Request)
		if err != nil {
			if errors.Is(err, linebot.ErrInvalidSignature) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			} else {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook payload"})
			}
			return
		}

		for _, event := range events {
			if event.Type != linebot.EventTypeMessage {
				continue
			}
			message, ok := event.Message.(*linebot.ImageMessage)
			if !ok {
				continue
			}

			ev := usecase.ImageEvent{
				ReplyToken: event.ReplyToken,
				MessageID:  message.ID,
			}
			if event.Source != nil {
				ev.UserID = event.Source.UserID
			}

			if err := uc.HandleImage(c.Request.Context(), ev); err != nil {
				// The platform retries non-200 acknowledgments, so failures
				// are logged rather than surfaced.
				logger.Error("image event handling failed", zap.Error(err), zap.String("message_id", message.ID))
			}
		}

		c.String(http.StatusOK, "OK")
	})

	router.GET("/diagnoses/recent", authMiddleware, func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		logs, err := uc.RecentDiagnoses(c.Request.Context(), limit)
		if err != nil {
			if errors.Is(err, usecase.ErrHistoryDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnosis history is not configured"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load diagnoses"})
			return
		}

		items := make([]gin.H, 0, len(logs))
		for _, log := range logs {
			items = append(items, gin.H{
				"diagnosis_id": log.DiagnosisID,
				"user_id":      log.UserID,
				"label":        log.Label,
				"confidence":   log.Confidence,
				"definite":     log.Definite,
				"created_at":   log.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"diagnoses": items})
	})

	router.GET("/metrics", authMiddleware, func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			if errors.Is(err, usecase.ErrHistoryDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnosis history is not configured"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
