package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/leafdoctor/internal/advice"
	"github.com/example/leafdoctor/internal/classifier"
	"github.com/example/leafdoctor/internal/config"
	"github.com/example/leafdoctor/internal/ledger"
	"github.com/example/leafdoctor/internal/logging"
	"github.com/example/leafdoctor/internal/messaging"
	"github.com/example/leafdoctor/internal/repository"
)

// User-facing message templates.
const (
	placeholderMessage = "🔍 กำลังวิเคราะห์ภาพ กรุณารอสักครู่..."

	retakeMessage = "📷 ไม่สามารถวิเคราะห์ภาพได้อย่างแม่นยำ\n\n" +
		"กรุณาส่งภาพใหม่ที่ชัดเจน เห็นใบหรืออาการผิดปกติ " +
		"และถ่ายในบริเวณที่มีแสงสว่างเพียงพอ 🙏"

	failureMessage = "⚠️ เกิดข้อผิดพลาดระหว่างประมวลผล กรุณาลองใหม่อีกครั้ง"

	resultTemplate = "🌱 ผลการวิเคราะห์โรคมะเขือเทศ\n\n" +
		"🦠 โรคที่พบ: %s\n" +
		"📊 ความมั่นใจ: %.2f%%\n\n" +
		"%s"
)

const outcomeCacheTTL = 24 * time.Hour

// ErrHistoryDisabled is returned by the read-side APIs when no database was
// configured.
var ErrHistoryDisabled = errors.New("diagnosis history is not configured")

// ImageEvent carries the fields of one inbound image message.
type ImageEvent struct {
	ReplyToken string
	UserID     string
	MessageID  string
}

// HistoryRepository defines the persistence operations needed by the use case.
type HistoryRepository interface {
	SaveLog(ctx context.Context, log *repository.DiagnosisLog) error
	FindRecent(ctx context.Context, limit int) ([]*repository.DiagnosisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.Aggregation, error)
}

// DiagnosisUseCase runs the per-request pipeline: fetch image, preprocess,
// infer, gate, compose the reply, and fan out the two independent side
// effects (user message, ledger row). Ledger, cache, and history are
// optional; a nil dependency disables that side effect.
type DiagnosisUseCase struct {
	predictor classifier.Predictor
	messenger messaging.Messenger
	ledger    ledger.Ledger
	repo      HistoryRepository
	cache     Cache
	logger    *zap.Logger
	threshold float64
	delivery  string
	now       func() time.Time
	runAsync  func(func())
}

// NewDiagnosisUseCase constructs a new use case instance.
func NewDiagnosisUseCase(
	predictor classifier.Predictor,
	messenger messaging.Messenger,
	lg ledger.Ledger,
	repo HistoryRepository,
	cache Cache,
	threshold float64,
	delivery string,
	logger *zap.Logger,
) *DiagnosisUseCase {
	return &DiagnosisUseCase{
		predictor: predictor,
		messenger: messenger,
		ledger:    lg,
		repo:      repo,
		cache:     cache,
		logger:    logger.Named("diagnosis_usecase"),
		threshold: threshold,
		delivery:  delivery,
		now:       time.Now,
		runAsync:  func(fn func()) { go fn() },
	}
}

// HandleImage processes one inbound image event. In ack_push mode it replies
// with a placeholder immediately and finishes on a detached goroutine so the
// webhook acknowledgment stays within the platform's reply window; in reply
// mode the full pipeline runs inside the request.
func (uc *DiagnosisUseCase) HandleImage(ctx context.Context, ev ImageEvent) error {
	diagnosisID := uuid.NewString()

	if uc.delivery == config.DeliveryAckPush {
		opLogger := logging.WithOperation(uc.logger, "usecase.handle_image", diagnosisID)
		if err := uc.messenger.Reply(ctx, ev.ReplyToken, placeholderMessage); err != nil {
			// The push below still reaches the user; the placeholder is
			// best-effort.
			opLogger.Warn("placeholder reply failed", zap.Error(err))
		}
		uc.runAsync(func() {
			defer uc.recoverPanic(diagnosisID, ev)
			uc.diagnoseAndDeliver(context.Background(), diagnosisID, ev, true)
		})
		return nil
	}

	uc.diagnoseAndDeliver(ctx, diagnosisID, ev, false)
	return nil
}

func (uc *DiagnosisUseCase) recoverPanic(diagnosisID string, ev ImageEvent) {
	if rec := recover(); rec != nil {
		opLogger := logging.WithOperation(uc.logger, "usecase.handle_image", diagnosisID)
		opLogger.Error("pipeline panicked", zap.Any("panic", rec))
		if err := uc.messenger.Push(context.Background(), ev.UserID, failureMessage); err != nil {
			opLogger.Warn("failure push failed", zap.Error(err))
		}
	}
}

func (uc *DiagnosisUseCase) diagnoseAndDeliver(ctx context.Context, diagnosisID string, ev ImageEvent, push bool) {
	opLogger := logging.WithOperation(uc.logger, "usecase.deliver", diagnosisID)

	text := uc.diagnose(ctx, diagnosisID, ev)

	var err error
	if push {
		err = uc.messenger.Push(ctx, ev.UserID, text)
	} else {
		err = uc.messenger.Reply(ctx, ev.ReplyToken, text)
	}
	if err != nil {
		opLogger.Error("delivery failed", zap.Error(err))
	}
}

// diagnose runs the pipeline and returns the message text for the user. All
// failures map to a user-visible template; nothing here may panic the
// request handler.
func (uc *DiagnosisUseCase) diagnose(ctx context.Context, diagnosisID string, ev ImageEvent) string {
	opLogger := logging.WithOperation(uc.logger, "usecase.diagnose", diagnosisID)

	data, err := uc.messenger.FetchImage(ctx, ev.MessageID)
	if err != nil {
		opLogger.Error("image fetch failed", zap.Error(logging.NewOperationError("usecase.fetch_image", diagnosisID, err)))
		return failureMessage
	}

	key := cacheKey(data)
	outcome, hit := uc.cachedOutcome(ctx, diagnosisID, key)
	if !hit {
		tensor, err := classifier.Preprocess(data, uc.predictor.InputSize())
		if err != nil {
			if errors.Is(err, classifier.ErrDecode) {
				opLogger.Warn("image not decodable", zap.Error(err))
				return retakeMessage
			}
			opLogger.Error("preprocess failed", zap.Error(err))
			return failureMessage
		}

		scores, err := uc.predictor.Predict(ctx, tensor)
		if err != nil {
			opLogger.Error("inference failed", zap.Error(logging.NewOperationError("usecase.predict", diagnosisID, err)))
			return failureMessage
		}

		outcome, err = classifier.Decide(scores, uc.predictor.Labels(), uc.threshold)
		if err != nil {
			opLogger.Error("decision failed", zap.Error(err))
			return failureMessage
		}

		uc.storeOutcome(ctx, diagnosisID, key, outcome)
	}

	uc.recordHistory(ctx, diagnosisID, ev.UserID, outcome)

	if !outcome.Definite {
		return retakeMessage
	}

	// The ledger append and the user reply are independent side effects: a
	// spreadsheet outage is observed server-side only.
	if uc.ledger != nil {
		entry := ledger.Entry{Date: uc.now(), Label: outcome.Label}
		if err := uc.ledger.Append(ctx, entry); err != nil {
			opLogger.Error("ledger append failed", zap.Error(logging.NewOperationError("usecase.ledger_append", diagnosisID, err)))
		}
	}

	return fmt.Sprintf(resultTemplate, outcome.Label, outcome.Confidence, advice.Lookup(outcome.Label))
}

type cachedOutcome struct {
	Definite   bool    `json:"definite"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
}

func cacheKey(imageBytes []byte) string {
	sum := sha1.Sum(imageBytes)
	return "diagnosis:image:" + hex.EncodeToString(sum[:])
}

// cachedOutcome looks up a previous result for byte-identical images.
// Inference is deterministic, so a hit can skip the forward pass entirely.
func (uc *DiagnosisUseCase) cachedOutcome(ctx context.Context, diagnosisID, key string) (classifier.Outcome, bool) {
	if uc.cache == nil {
		return classifier.Outcome{}, false
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.cache_get", diagnosisID)

	raw, err := uc.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			opLogger.Warn("cache read failed", zap.Error(err))
		}
		return classifier.Outcome{}, false
	}

	var payload cachedOutcome
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		opLogger.Warn("failed to decode cached outcome", zap.Error(err))
		return classifier.Outcome{}, false
	}

	return classifier.Outcome{
		Definite:   payload.Definite,
		Label:      payload.Label,
		Confidence: payload.Confidence,
	}, true
}

func (uc *DiagnosisUseCase) storeOutcome(ctx context.Context, diagnosisID, key string, outcome classifier.Outcome) {
	if uc.cache == nil {
		return
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.cache_set", diagnosisID)

	serialized, err := json.Marshal(cachedOutcome{
		Definite:   outcome.Definite,
		Label:      outcome.Label,
		Confidence: outcome.Confidence,
	})
	if err != nil {
		opLogger.Warn("failed to serialize outcome", zap.Error(err))
		return
	}
	if err := uc.cache.Set(ctx, key, string(serialized), outcomeCacheTTL); err != nil {
		opLogger.Warn("cache write failed", zap.Error(err))
	}
}

func (uc *DiagnosisUseCase) recordHistory(ctx context.Context, diagnosisID, userID string, outcome classifier.Outcome) {
	if uc.repo == nil {
		return
	}
	log := &repository.DiagnosisLog{
		DiagnosisID: diagnosisID,
		UserID:      userID,
		Label:       outcome.Label,
		Confidence:  outcome.Confidence,
		Definite:    outcome.Definite,
		CreatedAt:   uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		logging.WithOperation(uc.logger, "usecase.record_history", diagnosisID).Warn("failed to persist diagnosis", zap.Error(err))
	}
}

// RecentDiagnoses returns the newest history entries for the admin API.
func (uc *DiagnosisUseCase) RecentDiagnoses(ctx context.Context, limit int) ([]*repository.DiagnosisLog, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return uc.repo.FindRecent(ctx, limit)
}
