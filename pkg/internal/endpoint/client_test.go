package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlink/calling/pkg/internal/models"
	"github.com/tutorlink/calling/pkg/internal/simulator"
)

const testJwtSecret = "unit-test-signing-secret"

type harness struct {
	store  *simulator.Store
	client *Client
}

// newHarness boots the backend simulator on a loopback port and returns a
// client pointed at it.
func newHarness(t *testing.T, clk clock.Clock) *harness {
	t.Helper()

	viper.Set("calling.api_key", "devkey")
	viper.Set("calling.api_secret", "devsecret-devsecret-devsecret-00")
	viper.Set("calling.endpoint", "meet.test.local")

	archive := simulator.NewMemoryArchive()
	store := simulator.NewStore(clk, archive)
	store.AddAccount(models.Account{ID: "s-1", Name: "amelia", Role: models.RoleStudent}, "pw")
	store.SetBalance("s-1", 3600)
	store.AddAccount(models.Account{ID: "t-1", Name: "viktor", Role: models.RoleTeacher, IsAvailable: true}, "pw")

	srv := simulator.NewServer(store, archive, simulator.NewTokenIssuer(testJwtSecret))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.App.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = srv.App.Shutdown()
	})

	return &harness{
		store:  store,
		client: NewClient("http://"+ln.Addr().String()+"/api", "", ""),
	}
}

func TestCallLifecycle(t *testing.T) {
	h := newHarness(t, clock.New())
	ctx := context.Background()

	user, err := h.client.Login(ctx, "amelia", "pw")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)

	active, err := h.client.GetActive(ctx)
	require.NoError(t, err)
	assert.False(t, active.HasActiveCall)

	call, err := h.client.Start(ctx, "t-1")
	require.NoError(t, err)
	assert.NotEmpty(t, call.ID)
	assert.NotEmpty(t, call.RoomToken)
	assert.Equal(t, "viktor", call.Counterparty.DisplayName)

	active, err = h.client.GetActive(ctx)
	require.NoError(t, err)
	require.True(t, active.HasActiveCall)
	require.NotNil(t, active.Call)
	assert.Equal(t, call.ID, active.Call.ID)
	require.NotNil(t, active.Video)
	assert.Equal(t, "meet.test.local", active.Video.Domain)
	assert.Equal(t, "amelia", active.Video.UserName)

	hb, err := h.client.Heartbeat(ctx)
	require.NoError(t, err)
	require.NotNil(t, hb.SubscriptionSecondsRemaining)
	assert.Equal(t, 3600, *hb.SubscriptionSecondsRemaining)

	res, err := h.client.End(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Call)
	assert.Equal(t, call.ID, res.Call.ID)
	assert.GreaterOrEqual(t, res.DurationSeconds, 0)

	active, err = h.client.GetActive(ctx)
	require.NoError(t, err)
	assert.False(t, active.HasActiveCall)

	page, err := h.client.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, page.Calls, 1)
	assert.Equal(t, call.ID, page.Calls[0].SessionID)
	assert.Equal(t, 1, page.TotalPages)
}

func TestHeartbeatWithoutCallClassifiesAsExpiry(t *testing.T) {
	h := newHarness(t, clock.New())
	ctx := context.Background()

	_, err := h.client.Login(ctx, "amelia", "pw")
	require.NoError(t, err)

	_, err = h.client.Heartbeat(ctx)
	require.Error(t, err)
	assert.True(t, IsExpiry(err), "a missing session means the call is gone on the backend side")

	re, ok := AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, 404, re.Status)
	assert.Equal(t, "No active call", re.Message)
}

func TestHeartbeatSubscriptionExpiry(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Now())
	h := newHarness(t, clk)
	ctx := context.Background()

	h.store.SetBalance("s-1", 10)
	_, err := h.client.Login(ctx, "amelia", "pw")
	require.NoError(t, err)
	_, err = h.client.Start(ctx, "t-1")
	require.NoError(t, err)

	clk.Add(30 * time.Second)
	_, err = h.client.Heartbeat(ctx)
	require.Error(t, err)
	assert.True(t, IsExpiry(err))

	re, ok := AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, 400, re.Status)
	assert.Contains(t, re.Message, "expired")

	// the backend already tore the session down
	active, err := h.client.GetActive(ctx)
	require.NoError(t, err)
	assert.False(t, active.HasActiveCall)
}

func TestStartRejectedWhenTutorUnavailable(t *testing.T) {
	h := newHarness(t, clock.New())
	ctx := context.Background()

	teacher := NewClient(h.client.baseURL, "", "")
	_, err := teacher.Login(ctx, "viktor", "pw")
	require.NoError(t, err)
	available, err := teacher.ToggleTutorStatus(ctx)
	require.NoError(t, err)
	assert.False(t, available)

	_, err = h.client.Login(ctx, "amelia", "pw")
	require.NoError(t, err)
	_, err = h.client.Start(ctx, "t-1")
	require.Error(t, err)

	re, ok := AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, 400, re.Status)
	assert.False(t, re.IsExpiry())
	assert.Equal(t, "This tutor is not available right now", re.Message)
}

func TestUnauthorizedRetriesAfterRefresh(t *testing.T) {
	h := newHarness(t, clock.New())
	ctx := context.Background()

	issuer := simulator.NewTokenIssuer(testJwtSecret)
	account, ok := h.store.Account("s-1")
	require.True(t, ok)
	_, refresh, err := issuer.IssuePair(account)
	require.NoError(t, err)

	// stale access token, live refresh token: the request must recover
	client := NewClient(h.client.baseURL, "garbage", refresh)
	active, err := client.GetActive(ctx)
	require.NoError(t, err)
	assert.False(t, active.HasActiveCall)
}

func TestListTutors(t *testing.T) {
	h := newHarness(t, clock.New())
	ctx := context.Background()

	_, err := h.client.Login(ctx, "amelia", "pw")
	require.NoError(t, err)

	tutors, err := h.client.ListTutors(ctx)
	require.NoError(t, err)
	require.Len(t, tutors, 1)
	assert.Equal(t, "viktor", tutors[0].Name)
	assert.True(t, tutors[0].IsAvailable)
}
