package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/leafdoctor/internal/advice"
	"github.com/example/leafdoctor/internal/classifier"
	"github.com/example/leafdoctor/internal/config"
	"github.com/example/leafdoctor/internal/ledger"
	"github.com/example/leafdoctor/internal/repository"
)

type stubMessenger struct {
	replies   []string
	pushes    []string
	fetchData []byte
	fetchErr  error
	replyErr  error
}

func (s *stubMessenger) Reply(ctx context.Context, replyToken, text string) error {
	s.replies = append(s.replies, text)
	return s.replyErr
}

func (s *stubMessenger) Push(ctx context.Context, userID, text string) error {
	s.pushes = append(s.pushes, text)
	return nil
}

func (s *stubMessenger) FetchImage(ctx context.Context, messageID string) ([]byte, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.fetchData, nil
}

type stubLedger struct {
	entries []ledger.Entry
	err     error
}

func (s *stubLedger) Append(ctx context.Context, entry ledger.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

type stubRepository struct {
	saved []*repository.DiagnosisLog
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.DiagnosisLog) error {
	s.saved = append(s.saved, log)
	return nil
}

func (s *stubRepository) FindRecent(ctx context.Context, limit int) ([]*repository.DiagnosisLog, error) {
	return s.saved, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.Aggregation, error) {
	agg := &repository.Aggregation{TotalCount: int64(len(s.saved))}
	for _, l := range s.saved {
		if l.Definite {
			agg.DefiniteCount++
		}
		agg.AverageConfidence += l.Confidence
	}
	if len(s.saved) > 0 {
		agg.AverageConfidence /= float64(len(s.saved))
	}
	return agg, nil
}

type stubCache struct {
	values map[string]string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

type stubPredictor struct {
	scores []float32
	err    error
	calls  int
}

func (s *stubPredictor) Predict(ctx context.Context, tensor []float32) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func (s *stubPredictor) Labels() []string { return classifier.DefaultLabels }
func (s *stubPredictor) InputSize() int   { return 32 }
func (s *stubPredictor) Close()           {}

func leafPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 40, G: 160, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test photo: %v", err)
	}
	return buf.Bytes()
}

// definiteScores puts all weight on Tomato_Early_blight.
func definiteScores() []float32 {
	scores := make([]float32, len(classifier.DefaultLabels))
	scores[1] = 20
	return scores
}

func newTestUseCase(pred classifier.Predictor, msg *stubMessenger, lg ledger.Ledger, repo HistoryRepository, cache Cache, delivery string) *DiagnosisUseCase {
	return NewDiagnosisUseCase(pred, msg, lg, repo, cache, 85, delivery, zap.NewNop())
}

func TestHandleImageDefiniteOutcome(t *testing.T) {
	msg := &stubMessenger{fetchData: leafPhoto(t)}
	lg := &stubLedger{}
	repo := &stubRepository{}
	pred := &stubPredictor{scores: definiteScores()}
	uc := newTestUseCase(pred, msg, lg, repo, nil, config.DeliveryReply)

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(msg.replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(msg.replies))
	}
	reply := msg.replies[0]
	if !strings.Contains(reply, "Tomato_Early_blight") {
		t.Errorf("reply missing label: %q", reply)
	}
	if !strings.Contains(reply, advice.Lookup("Tomato_Early_blight")) {
		t.Errorf("reply missing guidance text: %q", reply)
	}

	if len(lg.entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(lg.entries))
	}
	if lg.entries[0].Label != "Tomato_Early_blight" {
		t.Errorf("unexpected ledger label: %s", lg.entries[0].Label)
	}

	if len(repo.saved) != 1 || !repo.saved[0].Definite {
		t.Fatalf("expected one definite history row, got %+v", repo.saved)
	}
}

func TestHandleImageInconclusiveOutcome(t *testing.T) {
	msg := &stubMessenger{fetchData: leafPhoto(t)}
	lg := &stubLedger{}
	repo := &stubRepository{}
	// Uniform scores: confidence far below the threshold.
	pred := &stubPredictor{scores: make([]float32, len(classifier.DefaultLabels))}
	uc := newTestUseCase(pred, msg, lg, repo, nil, config.DeliveryReply)

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(msg.replies) != 1 || msg.replies[0] != retakeMessage {
		t.Fatalf("expected the retake template, got %v", msg.replies)
	}
	if len(lg.entries) != 0 {
		t.Fatalf("inconclusive outcomes must not reach the ledger, got %d entries", len(lg.entries))
	}
	if len(repo.saved) != 1 || repo.saved[0].Definite {
		t.Fatalf("expected one inconclusive history row, got %+v", repo.saved)
	}
	if repo.saved[0].Label != "" {
		t.Errorf("inconclusive history row must not carry a label, got %q", repo.saved[0].Label)
	}
}

func TestHandleImageLedgerOutageStillReplies(t *testing.T) {
	msg := &stubMessenger{fetchData: leafPhoto(t)}
	lg := &stubLedger{err: errors.New("sheets unreachable")}
	pred := &stubPredictor{scores: definiteScores()}
	uc := newTestUseCase(pred, msg, lg, nil, nil, config.DeliveryReply)

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(msg.replies) != 1 {
		t.Fatalf("expected one reply despite ledger outage, got %d", len(msg.replies))
	}
	if !strings.Contains(msg.replies[0], "Tomato_Early_blight") {
		t.Errorf("expected diagnosis reply, got %q", msg.replies[0])
	}
}

func TestHandleImageUndecodableBytes(t *testing.T) {
	msg := &stubMessenger{fetchData: []byte("corrupted upload")}
	lg := &stubLedger{}
	pred := &stubPredictor{scores: definiteScores()}
	uc := newTestUseCase(pred, msg, lg, nil, nil, config.DeliveryReply)

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(msg.replies) != 1 || msg.replies[0] != retakeMessage {
		t.Fatalf("expected the retake template, got %v", msg.replies)
	}
	if pred.calls != 0 {
		t.Errorf("predictor must not run on undecodable input, got %d calls", pred.calls)
	}
	if len(lg.entries) != 0 {
		t.Errorf("expected no ledger entries, got %d", len(lg.entries))
	}
}

func TestHandleImageFetchFailure(t *testing.T) {
	msg := &stubMessenger{fetchErr: errors.New("content api down")}
	uc := newTestUseCase(&stubPredictor{}, msg, nil, nil, nil, config.DeliveryReply)

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(msg.replies) != 1 || msg.replies[0] != failureMessage {
		t.Fatalf("expected the generic failure template, got %v", msg.replies)
	}
}

func TestHandleImageCacheHitSkipsInference(t *testing.T) {
	photo := leafPhoto(t)
	msg := &stubMessenger{fetchData: photo}
	pred := &stubPredictor{scores: definiteScores()}
	cache := &stubCache{values: map[string]string{}}

	serialized, err := json.Marshal(cachedOutcome{Definite: true, Label: "Tomato_Late_blight", Confidence: 97.5})
	if err != nil {
		t.Fatalf("failed to serialize cached outcome: %v", err)
	}
	cache.values[cacheKey(photo)] = string(serialized)

	uc := newTestUseCase(pred, msg, nil, nil, cache, config.DeliveryReply)
	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if pred.calls != 0 {
		t.Fatalf("cache hit must skip the forward pass, got %d calls", pred.calls)
	}
	if len(msg.replies) != 1 || !strings.Contains(msg.replies[0], "Tomato_Late_blight") {
		t.Fatalf("expected cached diagnosis in reply, got %v", msg.replies)
	}
}

func TestHandleImageStoresOutcomeInCache(t *testing.T) {
	photo := leafPhoto(t)
	msg := &stubMessenger{fetchData: photo}
	cache := &stubCache{}
	uc := newTestUseCase(&stubPredictor{scores: definiteScores()}, msg, nil, nil, cache, config.DeliveryReply)

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	raw, ok := cache.values[cacheKey(photo)]
	if !ok {
		t.Fatal("expected outcome to be cached under the image hash")
	}
	var payload cachedOutcome
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("cached outcome is not valid JSON: %v", err)
	}
	if !payload.Definite || payload.Label != "Tomato_Early_blight" {
		t.Fatalf("unexpected cached payload: %+v", payload)
	}
}

func TestHandleImageAckPushMode(t *testing.T) {
	msg := &stubMessenger{fetchData: leafPhoto(t)}
	uc := newTestUseCase(&stubPredictor{scores: definiteScores()}, msg, nil, nil, nil, config.DeliveryAckPush)
	uc.runAsync = func(fn func()) { fn() }

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(msg.replies) != 1 || msg.replies[0] != placeholderMessage {
		t.Fatalf("expected the placeholder reply first, got %v", msg.replies)
	}
	if len(msg.pushes) != 1 || !strings.Contains(msg.pushes[0], "Tomato_Early_blight") {
		t.Fatalf("expected the diagnosis push, got %v", msg.pushes)
	}
}

func TestHandleImageAckPushPlaceholderFailureStillPushes(t *testing.T) {
	msg := &stubMessenger{fetchData: leafPhoto(t), replyErr: errors.New("reply window expired")}
	uc := newTestUseCase(&stubPredictor{scores: definiteScores()}, msg, nil, nil, nil, config.DeliveryAckPush)
	uc.runAsync = func(fn func()) { fn() }

	if err := uc.HandleImage(context.Background(), ImageEvent{ReplyToken: "rt", UserID: "U1", MessageID: "m1"}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(msg.pushes) != 1 {
		t.Fatalf("expected the diagnosis push despite placeholder failure, got %v", msg.pushes)
	}
}

func TestMetricsSummary(t *testing.T) {
	repo := &stubRepository{saved: []*repository.DiagnosisLog{
		{Definite: true, Confidence: 90},
		{Definite: false, Confidence: 60},
	}}
	uc := newTestUseCase(&stubPredictor{}, &stubMessenger{}, nil, repo, nil, config.DeliveryReply)

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.TotalDiagnoses != 2 || summary.DefiniteDiagnoses != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.DefiniteRate != 0.5 {
		t.Errorf("expected definite rate 0.5, got %v", summary.DefiniteRate)
	}
}

func TestMetricsSummaryWithoutHistory(t *testing.T) {
	uc := newTestUseCase(&stubPredictor{}, &stubMessenger{}, nil, nil, nil, config.DeliveryReply)

	if _, err := uc.GetMetricsSummary(context.Background()); !errors.Is(err, ErrHistoryDisabled) {
		t.Fatalf("expected ErrHistoryDisabled, got %v", err)
	}
	if _, err := uc.RecentDiagnoses(context.Background(), 10); !errors.Is(err, ErrHistoryDisabled) {
		t.Fatalf("expected ErrHistoryDisabled, got %v", err)
	}
}
