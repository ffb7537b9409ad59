package lifecycle_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/merchantkit/paygate/internal/config"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	orderrepo "github.com/merchantkit/paygate/internal/order/repository"
	"github.com/merchantkit/paygate/internal/payment/lifecycle"
	"github.com/merchantkit/paygate/internal/payment/processor"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingCanceller struct {
	cancelled []string
}

func (c *recordingCanceller) Cancel(ctx context.Context, subscriptionRef string) error {
	c.cancelled = append(c.cancelled, subscriptionRef)
	return nil
}

type fixture struct {
	db     *gorm.DB
	repo   orderdomain.Repository
	svc    *lifecycle.Service
	subs   *recordingCanceller
	client *processor.Client
	node   *snowflake.Node
	paths  []string
}

func newFixture(t *testing.T, handler http.HandlerFunc) (*fixture, *httptest.Server) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&orderdomain.Order{}, &orderdomain.Note{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{db: db, repo: orderrepo.Provide(), subs: &recordingCanceller{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.paths = append(f.paths, r.URL.Path)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	settings := config.NewStaticSettingsHolder(config.GatewaySettings{
		APIKey:            "test-key",
		ProductionBaseURL: srv.URL,
	})
	client := processor.NewClient(processor.Params{
		Log:      zap.NewNop(),
		Settings: settings,
	})

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	f.client = client
	f.node = node
	f.svc = lifecycle.NewService(lifecycle.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Orders:        f.repo,
		Processor:     client,
		Subscriptions: f.subs,
	})
	return f, srv
}

func (f *fixture) seed(t *testing.T, order *orderdomain.Order, state orderdomain.PaymentState) {
	t.Helper()
	raw, err := state.Encode()
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	order.PaymentState = raw
	if err := f.repo.Insert(context.Background(), f.db, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
}

func (f *fixture) state(t *testing.T, id int64) orderdomain.PaymentState {
	t.Helper()
	order, err := f.repo.FindByID(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	state, err := orderdomain.DecodePaymentState(order.PaymentState)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func (f *fixture) notes(t *testing.T, id int64) []*orderdomain.Note {
	t.Helper()
	notes, err := f.repo.ListNotes(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	return notes
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestCancelAuthorization(t *testing.T) {
	f, _ := newFixture(t, okJSON(`{"status":"received"}`))
	f.seed(t, &orderdomain.Order{
		ID: 60, Status: orderdomain.StatusOnHold, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{IsManualCapture: true, PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 60, orderdomain.StatusOnHold, orderdomain.StatusCancelled)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if !f.state(t, 60).CancelRequested {
		t.Fatalf("cancel flag not set")
	}
	if len(f.paths) != 1 || f.paths[0] != "/payment/reverse" {
		t.Fatalf("paths = %v", f.paths)
	}
	notes := f.notes(t, 60)
	if len(notes) != 1 || !strings.Contains(notes[0].Content, "Cancellation of payment P1 requested") {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestCancelAuthorizationKeepsFlagOnFailure(t *testing.T) {
	f, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	f.seed(t, &orderdomain.Order{
		ID: 61, Status: orderdomain.StatusOnHold, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{IsManualCapture: true, PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 61, orderdomain.StatusOnHold, orderdomain.StatusCancelled)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	// The flag stays set so a late confirmation event can still match.
	if !f.state(t, 61).CancelRequested {
		t.Fatalf("cancel flag must survive the failed call")
	}
	notes := f.notes(t, 61)
	if len(notes) != 1 || !strings.Contains(notes[0].Content, "no result") {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestCaptureAuthorization(t *testing.T) {
	f, _ := newFixture(t, okJSON(`{"payfacReference":"C1","status":"received"}`))
	f.seed(t, &orderdomain.Order{
		ID: 62, Status: orderdomain.StatusOnHold, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{IsManualCapture: true, PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 62, orderdomain.StatusOnHold, orderdomain.StatusCompleted)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if len(f.paths) != 1 || f.paths[0] != "/payment/capture" {
		t.Fatalf("paths = %v", f.paths)
	}
	notes := f.notes(t, 62)
	if len(notes) != 1 || !strings.Contains(notes[0].Content, "Capture of 1.500 ISK requested") {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestCaptureAuthorizationFailure(t *testing.T) {
	f, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f.seed(t, &orderdomain.Order{
		ID: 63, Status: orderdomain.StatusOnHold, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{IsManualCapture: true, PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 63, orderdomain.StatusOnHold, orderdomain.StatusProcessing)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	notes := f.notes(t, 63)
	if len(notes) != 1 || !strings.Contains(notes[0].Content, "Capture of 1.500 ISK failed") {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestRefundPaymentCancelsLinkedSubscription(t *testing.T) {
	f, _ := newFixture(t, okJSON(`{"status":"received"}`))
	f.seed(t, &orderdomain.Order{
		ID: 64, Status: orderdomain.StatusCompleted, TotalAmount: 150000, Currency: "ISK",
		SubscriptionRef: "sub_77",
	}, orderdomain.PaymentState{PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 64, orderdomain.StatusCompleted, orderdomain.StatusRefunded)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if !f.state(t, 64).RefundRequested {
		t.Fatalf("refund flag not set")
	}
	if len(f.paths) != 1 || f.paths[0] != "/payment/reverse" {
		t.Fatalf("paths = %v", f.paths)
	}
	if len(f.subs.cancelled) != 1 || f.subs.cancelled[0] != "sub_77" {
		t.Fatalf("cancelled = %v", f.subs.cancelled)
	}
	notes := f.notes(t, 64)
	if len(notes) != 2 {
		t.Fatalf("notes = %+v", notes)
	}
	if !strings.Contains(notes[0].Content, "Refund of 1.500 ISK requested") {
		t.Fatalf("note = %q", notes[0].Content)
	}
	if !strings.Contains(notes[1].Content, "Linked subscription sub_77 cancelled") {
		t.Fatalf("note = %q", notes[1].Content)
	}
}

func TestRefundPaymentFailureKeepsFlag(t *testing.T) {
	f, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	f.seed(t, &orderdomain.Order{
		ID: 65, Status: orderdomain.StatusProcessing, TotalAmount: 150000, Currency: "ISK",
		SubscriptionRef: "sub_78",
	}, orderdomain.PaymentState{PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 65, orderdomain.StatusProcessing, orderdomain.StatusRefunded)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if !f.state(t, 65).RefundRequested {
		t.Fatalf("refund flag must survive the failed call")
	}
	if len(f.subs.cancelled) != 0 {
		t.Fatalf("subscription must not be cancelled on failure, got %v", f.subs.cancelled)
	}
	notes := f.notes(t, 65)
	if len(notes) != 1 || !strings.Contains(notes[0].Content, "Refund of 1.500 ISK failed") {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestMissingProcessorReferenceAddsNote(t *testing.T) {
	f, _ := newFixture(t, okJSON(`{"status":"received"}`))
	f.seed(t, &orderdomain.Order{
		ID: 66, Status: orderdomain.StatusOnHold, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{IsManualCapture: true})

	err := f.svc.HandleTransition(context.Background(), 66, orderdomain.StatusOnHold, orderdomain.StatusCancelled)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if len(f.paths) != 0 {
		t.Fatalf("no processor call expected, got %v", f.paths)
	}
	notes := f.notes(t, 66)
	if len(notes) != 1 || !strings.Contains(notes[0].Content, "no processor payment reference") {
		t.Fatalf("notes = %+v", notes)
	}
}

// interleavingRepo fires a hook once, after the first FindByID, to model a
// webhook delivery landing between the bridge's read and its write.
type interleavingRepo struct {
	orderdomain.Repository
	fired   bool
	between func()
}

func (r *interleavingRepo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*orderdomain.Order, error) {
	order, err := r.Repository.FindByID(ctx, db, id)
	if err == nil && !r.fired {
		r.fired = true
		r.between()
	}
	return order, err
}

func TestCancelAuthorizationKeepsConcurrentEventKey(t *testing.T) {
	f, _ := newFixture(t, okJSON(`{"status":"received"}`))
	f.seed(t, &orderdomain.Order{
		ID: 68, Status: orderdomain.StatusOnHold, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{IsManualCapture: true, PayfacReference: "P1"})

	wrapped := &interleavingRepo{Repository: f.repo}
	wrapped.between = func() {
		state := f.state(t, 68)
		state.MarkProcessed("T1:tokenization::0")
		state.CardToken = "tok_1"
		if err := f.repo.SavePaymentState(context.Background(), f.db, 68, state); err != nil {
			t.Fatalf("save state: %v", err)
		}
	}
	svc := lifecycle.NewService(lifecycle.Params{
		DB:            f.db,
		Log:           zap.NewNop(),
		GenID:         f.node,
		Orders:        wrapped,
		Processor:     f.client,
		Subscriptions: f.subs,
	})

	err := svc.HandleTransition(context.Background(), 68, orderdomain.StatusOnHold, orderdomain.StatusCancelled)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	state := f.state(t, 68)
	if !state.CancelRequested {
		t.Fatalf("cancel flag not set")
	}
	if !state.HasProcessed("T1:tokenization::0") {
		t.Fatalf("interleaved event key lost, keys = %v", state.ProcessedEventKeys)
	}
	if state.CardToken != "tok_1" {
		t.Fatalf("interleaved token lost, state = %+v", state)
	}
}

func TestUnrelatedTransitionIsNoOp(t *testing.T) {
	f, _ := newFixture(t, okJSON(`{"status":"received"}`))
	f.seed(t, &orderdomain.Order{
		ID: 67, Status: orderdomain.StatusPending, TotalAmount: 150000, Currency: "ISK",
	}, orderdomain.PaymentState{PayfacReference: "P1"})

	err := f.svc.HandleTransition(context.Background(), 67, orderdomain.StatusPending, orderdomain.StatusOnHold)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(f.paths) != 0 {
		t.Fatalf("no processor call expected, got %v", f.paths)
	}
	if notes := f.notes(t, 67); len(notes) != 0 {
		t.Fatalf("notes = %+v", notes)
	}
}
