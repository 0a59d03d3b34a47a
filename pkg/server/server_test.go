package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
	"github.com/dropzone-labs/dropzone/pkg/testutil"
)

type stubStore struct {
	airdrops []*airdrop.Airdrop
}

func (s *stubStore) ListAirdrops(ctx context.Context) ([]*airdrop.Airdrop, error) {
	return s.airdrops, nil
}
func (s *stubStore) InsertAirdrop(ctx context.Context, a *airdrop.Airdrop) error  { return nil }
func (s *stubStore) DeleteAirdrop(ctx context.Context, id string) error           { return nil }
func (s *stubStore) AddEntrant(ctx context.Context, id, userID string) error      { return nil }
func (s *stubStore) RemoveEntrant(ctx context.Context, id, userID string) error   { return nil }
func (s *stubStore) MarkEntrantPaid(ctx context.Context, id, userID, sig string) error {
	return nil
}
func (s *stubStore) GetUserAddress(ctx context.Context, userID string) (string, error) {
	return "", airdrop.ErrAddressNotRegistered
}
func (s *stubStore) RegisterUser(ctx context.Context, userID, address string) error { return nil }

type stubLedger struct{}

func (stubLedger) Transfer(ctx context.Context, address string, amount float64) (string, error) {
	return "", nil
}
func (stubLedger) Balance(ctx context.Context, address string) (float64, error) { return 0, nil }
func (stubLedger) ExplorerLink(ref string) string                               { return "" }

type stubNotifier struct{}

func (stubNotifier) EntrantPaid(ctx context.Context, a *airdrop.Airdrop, res airdrop.PayoutResult) error {
	return nil
}
func (stubNotifier) AirdropResolved(ctx context.Context, a *airdrop.Airdrop, results []airdrop.PayoutResult) error {
	return nil
}
func (stubNotifier) AirdropCancelled(ctx context.Context, a *airdrop.Airdrop) error { return nil }

func newTestServer(t *testing.T, st *stubStore, clock clockwork.Clock) (*Server, *airdrop.Manager) {
	t.Helper()
	m, err := airdrop.NewManager(airdrop.ManagerConfig{
		Logger:   testutil.NewLogger(),
		Clock:    clock,
		Store:    st,
		Ledger:   stubLedger{},
		Notifier: stubNotifier{},
	})
	require.NoError(t, err)

	s, err := New(Config{
		Logger:     testutil.NewLogger(),
		Clock:      clock,
		Manager:    m,
		ListenAddr: "127.0.0.1:0",
		VersionInfo: VersionInfo{
			Version: "test",
			Commit:  "abc",
			Date:    "today",
		},
	})
	require.NoError(t, err)
	return s, m
}

func TestDropzone_Server_Endpoints(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t, &stubStore{}, clock)

		rec := httptest.NewRecorder()
		s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz follows the first reconcile", func(t *testing.T) {
		t.Parallel()
		s, m := newTestServer(t, &stubStore{}, clock)

		rec := httptest.NewRecorder()
		s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		require.NoError(t, m.Reconcile(context.Background()))

		rec = httptest.NewRecorder()
		s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("status lists open airdrops", func(t *testing.T) {
		t.Parallel()
		a := airdrop.New(airdrop.Origin{TeamID: "T1", ChannelID: "C1", MessageTS: "1.0"}, "USPONSOR", 100, clock.Now().Add(time.Hour))
		a.Entrants["U1"] = airdrop.Entrant{UserID: "U1"}
		a.Entrants["U2"] = airdrop.Entrant{UserID: "U2"}

		s, m := newTestServer(t, &stubStore{airdrops: []*airdrop.Airdrop{a}}, clock)
		require.NoError(t, m.Reconcile(context.Background()))

		rec := httptest.NewRecorder()
		s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			OpenAirdrops int             `json:"open_airdrops"`
			Airdrops     []airdropStatus `json:"airdrops"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, 1, body.OpenAirdrops)
		require.Len(t, body.Airdrops, 1)
		require.Equal(t, "C1:1.0", body.Airdrops[0].ID)
		require.Equal(t, 2, body.Airdrops[0].Entrants)
		require.InDelta(t, 50.0, body.Airdrops[0].Split, 1e-9)
		require.Equal(t, "1h0m0s", body.Airdrops[0].EndsIn)
		require.True(t, body.Airdrops[0].NearEnd)
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t, &stubStore{}, clock)

		rec := httptest.NewRecorder()
		s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var v VersionInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
		require.Equal(t, "test", v.Version)
	})
}
