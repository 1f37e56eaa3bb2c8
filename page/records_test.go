package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(key, value string) Record {
	return Record{Key: []byte(key), Value: []byte(value)}
}

func keysOf(recs []Record) []string {
	var keys []string
	for _, r := range recs {
		if r.Flag == RecordNormal {
			keys = append(keys, string(r.Key))
		}
	}
	return keys
}

func TestInitDataPage(t *testing.T) {
	b := make([]byte, 2048)
	InitDataPage(b)
	require.Equal(t, TypeData, TypeOf(b))

	recs, err := ReadRecords(b)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, byte(RecordLowGuard), recs[0].Flag)
	assert.Equal(t, byte(RecordHighGuard), recs[1].Flag)
}

func TestInsertRecord(t *testing.T) {
	b := make([]byte, 2048)
	InitDataPage(b)
	recs, err := ReadRecords(b)
	require.NoError(t, err)

	recs = InsertRecord(recs, rec("m", "1"))
	recs = InsertRecord(recs, rec("a", "2"))
	recs = InsertRecord(recs, rec("z", "3"))
	assert.Equal(t, []string{"a", "m", "z"}, keysOf(recs))

	t.Run("ReplaceOnEqualKey", func(t *testing.T) {
		recs = InsertRecord(recs, rec("m", "changed"))
		assert.Equal(t, []string{"a", "m", "z"}, keysOf(recs))
		assert.Equal(t, []byte("changed"), FindRecord(recs, []byte("m")).Value)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, WriteRecords(b, recs))
		got, err := ReadRecords(b)
		require.NoError(t, err)
		assert.Equal(t, recs, got)
	})
}

func TestDeleteRecord(t *testing.T) {
	b := make([]byte, 2048)
	InitDataPage(b)
	recs, _ := ReadRecords(b)
	recs = InsertRecord(recs, rec("a", "1"))
	recs = InsertRecord(recs, rec("b", "2"))

	recs, found := DeleteRecord(recs, []byte("a"))
	assert.True(t, found)
	assert.Equal(t, []string{"b"}, keysOf(recs))

	_, found = DeleteRecord(recs, []byte("missing"))
	assert.False(t, found)
}

func TestWriteRecordsOverflow(t *testing.T) {
	b := make([]byte, 1024)
	InitDataPage(b)
	recs, _ := ReadRecords(b)
	big := make([]byte, 2048)
	recs = InsertRecord(recs, Record{Key: []byte("k"), Value: big})
	assert.ErrorIs(t, WriteRecords(b, recs), ErrPageOverflow)
}

func TestWriteRecordsClearsTail(t *testing.T) {
	b := make([]byte, 1024)
	InitDataPage(b)
	recs, _ := ReadRecords(b)
	recs = InsertRecord(recs, rec("key", "a long enough value to leave residue"))
	require.NoError(t, WriteRecords(b, recs))

	recs, _ = DeleteRecord(recs, []byte("key"))
	require.NoError(t, WriteRecords(b, recs))

	got, err := ReadRecords(b)
	require.NoError(t, err)
	assert.Empty(t, keysOf(got))
}

func TestLongRecordSegment(t *testing.T) {
	b := make([]byte, 1024)
	Reset(b)
	SetType(b, TypeLongRecord)

	seg := []byte("segment payload")
	require.True(t, SetLongRecordSegment(b, seg))
	got, err := LongRecordSegment(b)
	require.NoError(t, err)
	assert.Equal(t, seg, got)

	t.Run("FullCapacity", func(t *testing.T) {
		full := make([]byte, LongRecordSegmentCapacity(len(b)))
		require.True(t, SetLongRecordSegment(b, full))
		assert.False(t, SetLongRecordSegment(b, append(full, 0)))
	})
}

func TestLeftmostChild(t *testing.T) {
	b := make([]byte, 1024)
	Reset(b)
	SetType(b, TypeIndex)
	SetLeftmostChild(b, 17)
	assert.Equal(t, int64(17), LeftmostChild(b))
}
