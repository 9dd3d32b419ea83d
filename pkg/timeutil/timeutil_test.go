package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromUnix(t *testing.T) {
	assert.True(t, FromUnix(0).IsZero())
	assert.True(t, FromUnix(-1).IsZero())
	assert.Equal(t, int64(1700000000), FromUnix(1700000000).Unix())
}

func TestFormatLongStr(t *testing.T) {
	SetLocation(time.UTC)
	t.Cleanup(func() { SetLocation(nil) })

	ts := time.Date(2021, time.March, 5, 9, 7, 0, 0, time.UTC)
	assert.Equal(t, "Friday, 5 March 2021, 09:07", FormatLongStr(ts))
	assert.Equal(t, "5 March 2021", FormatDateStr(ts))
	assert.Equal(t, "-", FormatLongStr(time.Time{}))
}

func TestLoadLocation(t *testing.T) {
	t.Cleanup(func() { SetLocation(nil) })

	require.NoError(t, LoadLocation("UTC"))
	assert.Equal(t, "UTC", Location().String())

	assert.Error(t, LoadLocation("Not/AZone"))
	require.NoError(t, LoadLocation(""))
	assert.Equal(t, time.Local, Location())
}
