package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blendsdk/blend65-sub013/pkg/decl"
	"github.com/blendsdk/blend65-sub013/pkg/pipeline"
	"github.com/blendsdk/blend65-sub013/pkg/platform"
	"github.com/blendsdk/blend65-sub013/pkg/report"
)

const program = `
functions:
  - name: main
    calls: [a, b]
    locals: [{name: i, type: byte, reads: 9}]
  - name: a
    params: [{name: x, type: word}]
  - name: b
    locals: [{name: p, type: "*byte", place: fast}]
  - name: unused
`

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func runProgram(t *testing.T, src string) *pipeline.Result {
	t.Helper()
	cfg, err := platform.Lookup("test")
	require.NoError(t, err)
	prog, err := decl.Load(strings.NewReader(src), "test.yaml")
	require.NoError(t, err)
	res, _ := pipeline.Run(context.Background(), prog, cfg, pipeline.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NotNil(t, res)
	return res
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.SaveRun(context.Background(), "h", runProgram(t, program))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	res := runProgram(t, program)
	require.True(t, res.OK())
	hash := report.InputHash([]byte(program))

	run, err := s.SaveRun(ctx, hash, res)
	require.NoError(t, err)
	id, err := uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.True(t, run.OK)
	assert.Len(t, run.Fingerprint, 64)

	last, err := s.LastRun(ctx, hash, "test")
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, run.Fingerprint, last.Fingerprint)
	assert.Equal(t, res.Stats, last.Stats)
	assert.True(t, fixed.Equal(last.CreatedAt))

	recs, err := s.Records(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Records, recs)

	fp, err := report.Fingerprint(recs)
	require.NoError(t, err)
	assert.Equal(t, run.Fingerprint, fp, "stored records hash back to the run fingerprint")

	codes, err := s.DiagnosticCodes(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"FUNC_UNREACHABLE"}, codes)
}

func TestSaveRun_Failed(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	res := runProgram(t, `
functions:
  - name: main
    calls: [main]
`)
	require.False(t, res.OK())

	run, err := s.SaveRun(ctx, "h", res)
	require.NoError(t, err)
	assert.False(t, run.OK)
	assert.Empty(t, run.Fingerprint)

	recs, err := s.Records(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	codes, err := s.DiagnosticCodes(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, codes, "RECURSION_SELF")
}

func TestLastRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.LastRun(ctx, "missing", "test")
	assert.True(t, errors.Is(err, ErrNoRun))

	res := runProgram(t, program)
	first, err := s.SaveRun(ctx, "h1", res)
	require.NoError(t, err)
	second, err := s.SaveRun(ctx, "h1", res)
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, "h2", res)
	require.NoError(t, err)

	last, err := s.LastRun(ctx, "h1", "test")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
	assert.Greater(t, second.Seq, first.Seq)

	_, err = s.LastRun(ctx, "h1", "c64")
	assert.ErrorIs(t, err, ErrNoRun)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestChanged(t *testing.T) {
	a := &Run{OK: true, Fingerprint: "aa"}
	b := &Run{OK: true, Fingerprint: "bb"}
	failed := &Run{OK: false}

	assert.False(t, Changed(nil, a))
	assert.False(t, Changed(a, a))
	assert.True(t, Changed(a, b))
	assert.False(t, Changed(failed, a))
	assert.False(t, Changed(a, failed))
}
