package license

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/kiranshivaraju/licensegate/internal/metrics"
	"github.com/kiranshivaraju/licensegate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc *Service
	st  *memStore
	ca  *memCache
	rec *memRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{st: newMemStore(), ca: newMemCache(), rec: &memRecorder{}}
	f.svc = NewService(f.st, f.ca, f.rec, Options{Metrics: metrics.New()})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) create(t *testing.T, p CreateParams) *models.License {
	t.Helper()
	lic, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err)
	return lic
}

// --- GenerateKey ---

func TestGenerateKey_Format(t *testing.T) {
	re := regexp.MustCompile(`^[0-9A-F]{32}$`)
	for i := 0; i < 100; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.Regexp(t, re, key)
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := make(map[string]bool, 5000)
	for i := 0; i < 5000; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

// --- Create ---

func TestCreate_GeneratesKeyAndDefaults(t *testing.T) {
	f := newFixture(t)

	lic := f.create(t, CreateParams{Owner: "alice"})

	assert.Regexp(t, `^[0-9A-F]{32}$`, lic.Key)
	assert.Equal(t, models.StatusActive, lic.Status)
	assert.Equal(t, 1, lic.MaxServers)
	assert.Equal(t, testNow, lic.CreatedAt)
	assert.Nil(t, lic.ExpiresAt)

	stored, err := f.st.GetLicense(context.Background(), lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Owner)

	last := f.rec.last()
	assert.Equal(t, lic.Key, last.Key)
	assert.Equal(t, models.ActionLicenseCreated, last.Action)
}

func TestCreate_SuppliedKey(t *testing.T) {
	f := newFixture(t)
	email := "bob@example.com"
	exp := testNow.Add(24 * time.Hour)

	lic := f.create(t, CreateParams{Key: " ABC123 ", Owner: "bob", Email: &email, ExpiresAt: &exp, MaxServers: 3})

	assert.Equal(t, "ABC123", lic.Key)
	assert.Equal(t, 3, lic.MaxServers)
	require.NotNil(t, lic.ExpiresAt)
	assert.True(t, exp.Equal(*lic.ExpiresAt))
	require.NotNil(t, lic.Email)
	assert.Equal(t, email, *lic.Email)
}

func TestCreate_DuplicateKeyConflict(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "ABC123", Owner: "a"})

	_, err := f.svc.Create(context.Background(), CreateParams{Key: "ABC123", Owner: "b"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.rec.count(models.ActionLicenseCreated))
}

func TestCreate_RetriesGeneratedKeyCollision(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "TAKEN"})

	keys := []string{"TAKEN", "FRESH"}
	f.svc.newKey = func() (string, error) {
		k := keys[0]
		keys = keys[1:]
		return k, nil
	}

	lic := f.create(t, CreateParams{})
	assert.Equal(t, "FRESH", lic.Key)
}

func TestCreate_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "TAKEN"})
	f.svc.newKey = func() (string, error) { return "TAKEN", nil }

	_, err := f.svc.Create(context.Background(), CreateParams{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreate_NegativeMaxServers(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{MaxServers: -1})
	assert.ErrorIs(t, err, ErrInvalidMaxServers)
}

func TestCreate_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.st.err = errors.New("connection refused")

	_, err := f.svc.Create(context.Background(), CreateParams{Owner: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "connection refused")
}

// --- Disable / Activate ---

func TestDisable_DefaultReason(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})

	require.NoError(t, f.svc.Disable(context.Background(), "K1", ""))

	lic, _ := f.st.GetLicense(context.Background(), "K1")
	assert.Equal(t, models.StatusDisabled, lic.Status)
	require.NotNil(t, lic.Reason)
	assert.Equal(t, "Disabled by admin", *lic.Reason)
	assert.Equal(t, models.ActionLicenseDisabled, f.rec.last().Action)
}

func TestDisable_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})

	require.NoError(t, f.svc.Disable(context.Background(), "K1", "refund"))
	require.NoError(t, f.svc.Disable(context.Background(), "K1", "refund"))

	lic, _ := f.st.GetLicense(context.Background(), "K1")
	assert.Equal(t, models.StatusDisabled, lic.Status)
	assert.Equal(t, "refund", *lic.Reason)
}

func TestDisable_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Disable(context.Background(), "NOPE", ""), ErrNotFound)
}

func TestDisable_MissingKey(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Disable(context.Background(), "  ", ""), ErrMissingFields)
}

func TestDisable_ExpiredStaysExpired(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})
	f.st.licenses["K1"].Status = models.StatusExpired

	assert.ErrorIs(t, f.svc.Disable(context.Background(), "K1", ""), ErrExpired)
	lic, _ := f.st.GetLicense(context.Background(), "K1")
	assert.Equal(t, models.StatusExpired, lic.Status)
}

func TestActivate_FromDisabled(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})
	require.NoError(t, f.svc.Disable(context.Background(), "K1", "x"))

	require.NoError(t, f.svc.Activate(context.Background(), "K1"))

	lic, _ := f.st.GetLicense(context.Background(), "K1")
	assert.Equal(t, models.StatusActive, lic.Status)
	assert.Nil(t, lic.Reason)
	assert.Equal(t, models.ActionLicenseActivated, f.rec.last().Action)
}

func TestActivate_AlreadyActiveIsNoop(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})

	require.NoError(t, f.svc.Activate(context.Background(), "K1"))
	assert.Equal(t, 0, f.rec.count(models.ActionLicenseActivated))
}

func TestActivate_ExpiredRefused(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})
	f.st.licenses["K1"].Status = models.StatusExpired

	assert.ErrorIs(t, f.svc.Activate(context.Background(), "K1"), ErrExpired)
}

func TestActivate_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Activate(context.Background(), "NOPE"), ErrNotFound)
}

// --- Delete ---

func TestDelete_RemovesLicenseAndBindings(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1", MaxServers: 2})
	_, err := f.svc.Validate(context.Background(), ValidateRequest{LicenseKey: "K1", ServerID: "S1"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), "K1"))

	_, err = f.st.GetLicense(context.Background(), "K1")
	assert.Error(t, err)
	assert.Equal(t, 0, f.st.bindingCount("K1"))
	assert.Equal(t, models.ActionLicenseDeleted, f.rec.last().Action)
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), "NOPE"), ErrNotFound)
}

// --- CheckStatus ---

func TestCheckStatus_Active(t *testing.T) {
	f := newFixture(t)
	exp := testNow.Add(time.Hour)
	f.create(t, CreateParams{Key: "K1", ExpiresAt: &exp})

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.True(t, rep.Active)
	assert.Equal(t, models.StatusActive, rep.Status)
	assert.True(t, exp.Equal(*rep.ExpiresAt))
}

func TestCheckStatus_PastExpiryDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	exp := testNow.Add(-time.Minute)
	f.create(t, CreateParams{Key: "K1", ExpiresAt: &exp})

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.False(t, rep.Active)
	assert.Equal(t, models.StatusActive, rep.Status)

	lic, _ := f.st.GetLicense(context.Background(), "K1")
	assert.Equal(t, models.StatusActive, lic.Status)
}

func TestCheckStatus_Disabled(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})
	require.NoError(t, f.svc.Disable(context.Background(), "K1", "abuse"))

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.False(t, rep.Active)
	assert.Equal(t, models.StatusDisabled, rep.Status)
	assert.Equal(t, "abuse", *rep.Reason)
}

func TestCheckStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckStatus(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckStatus_ServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})

	_, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.True(t, f.ca.has("K1"))

	_, err = f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.ca.hits)
}

func TestCheckStatus_InvalidatedOnDisable(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})
	_, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Disable(context.Background(), "K1", ""))
	assert.False(t, f.ca.has("K1"))

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, rep.Status)
}

func TestCheckStatus_DisableDuringReadIsNotCachedStale(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})

	// Disable commits after the storage read but before the cache fill.
	f.st.afterGet = func(key string) {
		f.st.afterGet = nil
		require.NoError(t, f.svc.Disable(context.Background(), key, "chargeback"))
	}

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rep.Status)
	assert.False(t, f.ca.has("K1"))

	rep, err = f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, rep.Status)
	assert.False(t, rep.Active)
}

func TestCheckStatus_ExpiryDuringReadIsNotCachedStale(t *testing.T) {
	f := newFixture(t)
	exp := testNow.Add(-time.Second)
	f.create(t, CreateParams{Key: "K1", ExpiresAt: &exp})

	f.st.afterGet = func(key string) {
		f.st.afterGet = nil
		_, err := f.svc.Validate(context.Background(), ValidateRequest{LicenseKey: key, ServerID: "S1"})
		require.ErrorIs(t, err, ErrExpired)
	}

	_, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.False(t, f.ca.has("K1"))

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, rep.Status)
}

func TestCheckStatus_CacheFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1"})
	f.ca.err = errors.New("redis down")

	rep, err := f.svc.CheckStatus(context.Background(), "K1")
	require.NoError(t, err)
	assert.True(t, rep.Active)
}

// --- List / Get ---

func TestList_NewestFirstWithActiveServers(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "OLD", MaxServers: 5})
	f.svc.now = func() time.Time { return testNow.Add(time.Minute) }
	f.create(t, CreateParams{Key: "NEW"})

	_, err := f.svc.Validate(context.Background(), ValidateRequest{LicenseKey: "OLD", ServerID: "S1"})
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), ValidateRequest{LicenseKey: "OLD", ServerID: "S2"})
	require.NoError(t, err)
	f.st.bindings["OLD"]["S2"].LastSeen = testNow.Add(-2 * time.Hour)

	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "NEW", list[0].Key)
	assert.Equal(t, "OLD", list[1].Key)
	assert.Equal(t, 1, list[1].ActiveServers)
	assert.Equal(t, 0, list[0].ActiveServers)
}

func TestGet_IncludesBindings(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateParams{Key: "K1", MaxServers: 2})
	_, err := f.svc.Validate(context.Background(), ValidateRequest{LicenseKey: "K1", ServerID: "S1", ServerPort: 25565})
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), ValidateRequest{LicenseKey: "K1", ServerID: "S2"})
	require.NoError(t, err)
	f.st.bindings["K1"]["S2"].LastSeen = testNow.Add(-3 * time.Hour)

	detail, err := f.svc.Get(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, "K1", detail.License.Key)
	require.Len(t, detail.Servers, 2)
	assert.Equal(t, 1, detail.ActiveServers)
	assert.Equal(t, "S1", detail.Servers[0].ServerID)
	assert.True(t, detail.Servers[0].Active)
	assert.Equal(t, 25565, detail.Servers[0].ServerPort)
	assert.False(t, detail.Servers[1].Active)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}
