package relstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relations.db")
	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_LookupBothColumns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stats, err := s.ImportRelations(ctx, TableBioProjectBioSample, strings.NewReader(
		"# bioproject\tbiosample\nPRJNA1\tSAMN1\nPRJNA1\tSAMN2\nPRJNA2\tSAMN1\n\nbroken-line\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 1, stats.Invalid)

	edges, err := s.Lookup(ctx, TableBioProjectBioSample, "PRJNA1", 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Edge{{"PRJNA1", "SAMN1"}, {"PRJNA1", "SAMN2"}}, edges)

	edges, err = s.Lookup(ctx, TableBioProjectBioSample, "SAMN1", 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Edge{{"PRJNA1", "SAMN1"}, {"PRJNA2", "SAMN1"}}, edges)
}

func TestStore_LookupLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ImportRelations(ctx, TableJGAStudyDataset, strings.NewReader(
		"JGAS1\tJGAD1\nJGAS1\tJGAD2\nJGAS1\tJGAD3\n"))
	require.NoError(t, err)

	edges, err := s.Lookup(ctx, TableJGAStudyDataset, "JGAS1", 2)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestStore_LookupMissingTable(t *testing.T) {
	s := openTestStore(t)

	edges, err := s.Lookup(context.Background(), TableBioSampleGEA, "SAMD1", 10)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestStore_LookupUnknownTable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Lookup(context.Background(), "users; DROP TABLE x", "A", 10)
	assert.True(t, errors.Is(err, ErrUnknownTable))

	_, err = s.ImportRelations(context.Background(), "nope", strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestStore_ImportReplacesTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ImportRelations(ctx, TableJGAPolicyDAC, strings.NewReader("JGAP1\tJGAC1\n"))
	require.NoError(t, err)
	_, err = s.ImportRelations(ctx, TableJGAPolicyDAC, strings.NewReader("JGAP2\tJGAC2\n"))
	require.NoError(t, err)

	edges, err := s.Lookup(ctx, TableJGAPolicyDAC, "JGAP1", 10)
	require.NoError(t, err)
	assert.Empty(t, edges)

	edges, err = s.Lookup(ctx, TableJGAPolicyDAC, "JGAC2", 10)
	require.NoError(t, err)
	assert.Equal(t, []Edge{{"JGAP2", "JGAC2"}}, edges)
}

func TestStore_Dates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, found, err := s.LookupDates(ctx, "JGAS000001")
	require.NoError(t, err)
	assert.False(t, found)

	stats, err := s.ImportDates(ctx, strings.NewReader(
		"accession\tcreated\tmodified\tpublished\n"+
			"JGAS000001\t2014-07-07T00:00:00Z\t2020-01-01T00:00:00Z\t-\n"+
			"JGAS000001\t2015-01-01T00:00:00Z\t\t\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, 1, stats.Invalid)

	dates, found, err := s.LookupDates(ctx, "JGAS000001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2014-07-07T00:00:00Z", dates.Created)
	assert.Equal(t, "2020-01-01T00:00:00Z", dates.Modified)
	assert.Empty(t, dates.Published)
}

func TestStore_ReopenReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relations.db")

	rw, err := Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	_, err = rw.ImportRelations(ctx, TableBioProjectUmbrella, strings.NewReader("PRJDB1\tPRJDB2\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := Open(ctx, Options{Driver: DriverSQLite, DSN: path, ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	assert.True(t, ro.HasTable(TableBioProjectUmbrella))
	edges, err := ro.Lookup(ctx, TableBioProjectUmbrella, "PRJDB2", 10)
	require.NoError(t, err)
	assert.Equal(t, []Edge{{"PRJDB1", "PRJDB2"}}, edges)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	assert.True(t, errors.Is(err, ErrUnsupportedDriver))
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, "/data/rel.db.lock", LockPath(Options{Driver: DriverSQLite, DSN: "/data/rel.db"}))
	assert.Empty(t, LockPath(Options{Driver: DriverPostgres, DSN: "postgres://x"}))
}
