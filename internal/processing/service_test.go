package processing

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/sheetpipe/internal/dedup"
	"github.com/rpattn/sheetpipe/internal/domain"
	"github.com/rpattn/sheetpipe/internal/transformations"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowOutcome struct {
	status  domain.RowStatus
	payload domain.Payload
	message string
}

type stubRowRepo struct {
	pending       []domain.PendingRow
	listErr       error
	processErr    error
	outcomes      map[uuid.UUID]rowOutcome
	requestedSize int
}

func newStubRowRepo(rows ...domain.PendingRow) *stubRowRepo {
	return &stubRowRepo{pending: rows, outcomes: make(map[uuid.UUID]rowOutcome)}
}

func (s *stubRowRepo) ListPending(_ context.Context, limit int) ([]domain.PendingRow, error) {
	s.requestedSize = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *stubRowRepo) ListByUpload(context.Context, uuid.UUID) ([]domain.RowRecord, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRowRepo) MarkProcessed(_ context.Context, id uuid.UUID, payload domain.Payload) error {
	if s.processErr != nil {
		return s.processErr
	}
	s.outcomes[id] = rowOutcome{status: domain.RowStatusProcessed, payload: payload}
	return nil
}

func (s *stubRowRepo) MarkError(_ context.Context, id uuid.UUID, message string) error {
	s.outcomes[id] = rowOutcome{status: domain.RowStatusError, message: message}
	return nil
}

type stubGate struct {
	err       error
	forgotten int
}

func (g *stubGate) CheckAndMark(context.Context, domain.Payload) (bool, error) {
	return g.err == nil, g.err
}

func (g *stubGate) Forget(context.Context, domain.Payload) error {
	g.forgotten++
	return nil
}

func newRedisGate(t *testing.T) *dedup.Gate {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := dedup.NewRedisClient(context.Background(), dedup.RedisOptions{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return dedup.NewGate(dedup.NewRedisStore(client))
}

func pendingRow(uploadID uuid.UUID, uploadType string, index int, raw string) domain.PendingRow {
	return domain.PendingRow{
		ID:         uuid.New(),
		UploadID:   uploadID,
		UploadType: uploadType,
		SheetName:  "Sheet1",
		RowIndex:   index,
		RawPayload: []byte(raw),
	}
}

func TestDuplicateInSameBatch(t *testing.T) {
	uploadID := uuid.New()
	first := pendingRow(uploadID, "type1", 1, `{"sku":"A-1","qty":2}`)
	second := pendingRow(uploadID, "type1", 2, `{"qty":2,"sku":"A-1"}`)
	repo := newStubRowRepo(first, second)

	service := NewService(repo, newRedisGate(t), transformations.Builtin())
	result, err := service.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Selected)
	assert.Equal(t, 1, result.Succeeded)

	assert.Equal(t, domain.RowStatusProcessed, repo.outcomes[first.ID].status)
	assert.Equal(t, domain.RowStatusError, repo.outcomes[second.ID].status)
	assert.Equal(t, "duplicate row", repo.outcomes[second.ID].message)
}

func TestUnregisteredTypeUsesDefault(t *testing.T) {
	registry := transformations.NewRegistry()
	require.NoError(t, registry.Register("type1", transformations.TransformFunc(func(domain.Payload) (domain.Payload, error) {
		return domain.Payload{}, errors.New("type1 must not run")
	})))
	require.NoError(t, registry.Register("default", transformations.TransformFunc(transformations.Passthrough)))

	row := pendingRow(uuid.New(), "type2", 1, `{"name":" padded ","n":"7"}`)
	repo := newStubRowRepo(row)

	result, err := NewService(repo, newRedisGate(t), registry).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	outcome := repo.outcomes[row.ID]
	assert.Equal(t, domain.RowStatusProcessed, outcome.status)
	encoded, err := outcome.payload.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"name":" padded ","n":"7"}`, string(encoded))
}

func TestRowFailuresAreIsolated(t *testing.T) {
	uploadID := uuid.New()
	broken := pendingRow(uploadID, "default", 1, `[1,2,3]`)
	good := pendingRow(uploadID, "default", 2, `{"a":1}`)
	repo := newStubRowRepo(broken, good)

	result, err := NewService(repo, newRedisGate(t), transformations.Builtin()).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	assert.Equal(t, domain.RowStatusError, repo.outcomes[broken.ID].status)
	assert.Contains(t, repo.outcomes[broken.ID].message, "invalid payload")
	assert.Equal(t, domain.RowStatusProcessed, repo.outcomes[good.ID].status)
}

func TestTransformErrorMarksRow(t *testing.T) {
	registry := transformations.NewRegistry()
	require.NoError(t, registry.Register("default", transformations.TransformFunc(func(p domain.Payload) (domain.Payload, error) {
		if v, _ := p.Get("bad"); v == true {
			return domain.Payload{}, errors.New("cannot handle bad rows")
		}
		return p, nil
	})))

	uploadID := uuid.New()
	bad := pendingRow(uploadID, "", 1, `{"bad":true}`)
	ok := pendingRow(uploadID, "", 2, `{"bad":false}`)
	repo := newStubRowRepo(bad, ok)

	result, err := NewService(repo, newRedisGate(t), registry).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, "transform: cannot handle bad rows", repo.outcomes[bad.ID].message)
	assert.Equal(t, domain.RowStatusProcessed, repo.outcomes[ok.ID].status)
}

func TestDedupFailureMarksRowError(t *testing.T) {
	row := pendingRow(uuid.New(), "type1", 1, `{"a":1}`)
	repo := newStubRowRepo(row)
	gate := &stubGate{err: dedup.ErrStoreUnavailable}

	result, err := NewService(repo, gate, transformations.Builtin()).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Succeeded)
	assert.Equal(t, domain.RowStatusError, repo.outcomes[row.ID].status)
	assert.Contains(t, repo.outcomes[row.ID].message, "dedup check")
}

func TestMissingDefaultTransformMarksRowsError(t *testing.T) {
	registry := transformations.NewRegistry()
	require.NoError(t, registry.Register("type1", transformations.TransformFunc(transformations.Passthrough)))

	row := pendingRow(uuid.New(), "type9", 1, `{"a":1}`)
	repo := newStubRowRepo(row)

	_, err := NewService(repo, &stubGate{}, registry).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusError, repo.outcomes[row.ID].status)
	assert.Contains(t, repo.outcomes[row.ID].message, "no transform registered")
}

func TestStoreFailureReleasesFingerprint(t *testing.T) {
	row := pendingRow(uuid.New(), "type1", 1, `{"a":1}`)
	repo := newStubRowRepo(row)
	repo.processErr = errors.New("connection reset")
	gate := &stubGate{}

	result, err := NewService(repo, gate, transformations.Builtin()).ProcessPending(context.Background())
	require.Error(t, err)
	assert.Zero(t, result.Succeeded)
	assert.Equal(t, 1, gate.forgotten)
	_, recorded := repo.outcomes[row.ID]
	assert.False(t, recorded)
}

func TestBatchSizeAndEmptyBatch(t *testing.T) {
	repo := newStubRowRepo()
	result, err := NewService(repo, &stubGate{}, transformations.Builtin(), WithBatchSize(25)).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Selected)
	assert.Equal(t, 25, repo.requestedSize)
}

func TestCancelledContextLeavesRowsPending(t *testing.T) {
	row := pendingRow(uuid.New(), "type1", 1, `{"a":1}`)
	repo := newStubRowRepo(row)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewService(repo, &stubGate{}, transformations.Builtin()).ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Succeeded)
	assert.Empty(t, repo.outcomes)
}

func TestSelectionErrorIsReturned(t *testing.T) {
	repo := newStubRowRepo()
	repo.listErr = errors.New("db down")

	_, err := NewService(repo, &stubGate{}, transformations.Builtin()).ProcessPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
