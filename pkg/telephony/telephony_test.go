package telephony

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTrunkAPI struct {
	mu       sync.Mutex
	existing map[string]string
	findErrs int
	creates  int
}

func (f *fakeTrunkAPI) FindTrunk(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErrs > 0 {
		f.findErrs--
		return "", errors.New("connection reset")
	}
	return f.existing[name], nil
}

func (f *fakeTrunkAPI) CreateTrunk(_ context.Context, cfg TrunkConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	id := "TK" + cfg.Name
	if f.existing == nil {
		f.existing = make(map[string]string)
	}
	f.existing[cfg.Name] = id
	return id, nil
}

func TestEnsureTrunkCreatesOnce(t *testing.T) {
	api := &fakeTrunkAPI{}
	pool := NewTrunkPool(api, testLogger())
	cfg := TrunkConfig{Name: "outbound", Address: "sip.example.com"}

	id1, err := pool.EnsureTrunk(context.Background(), cfg)
	require.NoError(t, err)
	id2, err := pool.EnsureTrunk(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, api.creates)
}

func TestEnsureTrunkFindsExisting(t *testing.T) {
	api := &fakeTrunkAPI{existing: map[string]string{"outbound": "TKexisting"}}
	pool := NewTrunkPool(api, testLogger())

	id, err := pool.EnsureTrunk(context.Background(), TrunkConfig{Name: "outbound"})
	require.NoError(t, err)
	assert.Equal(t, "TKexisting", id)
	assert.Equal(t, 0, api.creates)
}

func TestEnsureTrunkRetriesTransientErrors(t *testing.T) {
	api := &fakeTrunkAPI{findErrs: 2}
	pool := NewTrunkPool(api, testLogger())

	id, err := pool.EnsureTrunk(context.Background(), TrunkConfig{Name: "outbound"})
	require.NoError(t, err)
	assert.Equal(t, "TKoutbound", id)
}

func TestEnsureTrunkGivesUpAfterRetries(t *testing.T) {
	api := &fakeTrunkAPI{findErrs: 10}
	pool := NewTrunkPool(api, testLogger())

	_, err := pool.EnsureTrunk(context.Background(), TrunkConfig{Name: "outbound"})
	require.Error(t, err)
}

func TestEnsureTrunkConcurrent(t *testing.T) {
	api := &fakeTrunkAPI{}
	pool := NewTrunkPool(api, testLogger())
	cfg := TrunkConfig{Name: "outbound"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := pool.EnsureTrunk(context.Background(), cfg)
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, api.creates)
}

type fakeCallAPI struct {
	mu        sync.Mutex
	statuses  []string
	status    int
	ended     []string
	createErr error
}

func (f *fakeCallAPI) CreateCall(_ context.Context, _ DialParams) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "CA123", nil
}

func (f *fakeCallAPI) CallStatus(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	s := f.statuses[f.status]
	f.status++
	return s, nil
}

func (f *fakeCallAPI) EndCall(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sid)
	return nil
}

func fastDialer(api CallAPI) *Dialer {
	return NewDialer(api, testLogger(), WithStatusPollInterval(time.Millisecond))
}

func TestDialAnswered(t *testing.T) {
	api := &fakeCallAPI{statuses: []string{StatusQueued, StatusRinging, StatusInProgress}}
	d := fastDialer(api)

	p, err := d.Dial(context.Background(), DialParams{
		RoomName:            "room-1",
		CalleeNumber:        "+919800000000",
		ParticipantIdentity: "customer",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "CA123", p.CallSID)
	assert.Equal(t, "customer", p.Identity)
	assert.Equal(t, "room-1", p.RoomName)
}

func TestDialBusyReturnsNoParticipant(t *testing.T) {
	api := &fakeCallAPI{statuses: []string{StatusRinging, StatusBusy}}
	d := fastDialer(api)

	p, err := d.Dial(context.Background(), DialParams{RoomName: "room-2"})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDialAnswerWaitElapses(t *testing.T) {
	api := &fakeCallAPI{statuses: []string{StatusRinging}}
	d := fastDialer(api)

	p, err := d.Dial(context.Background(), DialParams{
		RoomName:          "room-3",
		WaitUntilAnswered: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Contains(t, api.ended, "CA123")
}

func TestDialTransportError(t *testing.T) {
	api := &fakeCallAPI{createErr: errors.New("dns failure")}
	d := fastDialer(api)

	_, err := d.Dial(context.Background(), DialParams{RoomName: "room-4"})
	require.Error(t, err)
}

func TestDeleteRoomIdempotent(t *testing.T) {
	api := &fakeCallAPI{statuses: []string{StatusInProgress}}
	d := fastDialer(api)

	p, err := d.Dial(context.Background(), DialParams{RoomName: "room-5"})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NoError(t, d.DeleteRoom(context.Background(), "room-5"))
	require.NoError(t, d.DeleteRoom(context.Background(), "room-5"))
	require.NoError(t, d.DeleteRoom(context.Background(), "never-created"))
	assert.Equal(t, []string{"CA123"}, api.ended)
}

func TestHumanPresentTracksCallStatus(t *testing.T) {
	api := &fakeCallAPI{statuses: []string{StatusInProgress, StatusInProgress, StatusCompleted}}
	d := fastDialer(api)

	p, err := d.Dial(context.Background(), DialParams{RoomName: "room-7"})
	require.NoError(t, err)
	require.NotNil(t, p)

	present, err := d.HumanPresent(context.Background(), "room-7")
	require.NoError(t, err)
	assert.True(t, present)

	// Call has moved to a terminal status: the human is gone.
	present, err = d.HumanPresent(context.Background(), "room-7")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestHumanPresentUnknownRoom(t *testing.T) {
	d := fastDialer(&fakeCallAPI{statuses: []string{StatusInProgress}})

	present, err := d.HumanPresent(context.Background(), "never-dialed")
	require.NoError(t, err)
	assert.False(t, present)
}
