package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuartzValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		ok   bool
	}{
		{expr: "0 0 10 ? * MON,TUE,WED,THU,FRI,SAT,SUN *", ok: true},
		{expr: "0 0 10 ? * 2-6", ok: true},
		{expr: "0 */15 * * * ?", ok: true},
		{expr: "0 0 12 1 1 ? 2015-2020/2", ok: true},
		{expr: "0 0 10 * * ?", ok: true},
		{expr: "0 0 10 ? * 8"},
		{expr: "0 0 10 * *"},
		{expr: "0 0 10 ? * MON * extra"},
		{expr: "0 0 25 * * ?"},
		{expr: "0 0 10 ? * MON 1900"},
		{expr: "0 0 10 ? * MON abc"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			err := QuartzCron{}.Validate(tt.expr)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestQuartzNumericDayOfWeek(t *testing.T) {
	t.Parallel()
	// 2015-04-12 is a Sunday; Quartz 2-6 is MON-FRI.
	start := time.Date(2015, 4, 12, 0, 0, 0, 0, time.UTC)
	got, err := QuartzCron{}.FireTimesWithin("0 0 9 ? * 2-6", start, start.AddDate(0, 0, 7), 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, time.Monday, got[0].Weekday())
	assert.Equal(t, time.Friday, got[4].Weekday())
}

func TestQuartzStartIsInclusive(t *testing.T) {
	t.Parallel()
	start := time.Date(2015, 4, 12, 10, 0, 0, 0, time.UTC)
	got, err := QuartzCron{}.FireTimesWithin("0 0 10 * * ?", start, start, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, start.Equal(got[0]))
}

func TestQuartzYearFieldFilters(t *testing.T) {
	t.Parallel()
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := QuartzCron{}.FireTimesWithin("0 0 12 1 1 ? 2016/2", start, end, 0)
	require.NoError(t, err)
	var years []int
	for _, g := range got {
		years = append(years, g.Year())
	}
	assert.Equal(t, []int{2016, 2018, 2020}, years)
}

func TestQuartzKeepsStartLocation(t *testing.T) {
	t.Parallel()
	pdt := time.FixedZone("", -7*3600)
	start := time.Date(2015, 3, 25, 7, 0, 0, 0, pdt)
	got, err := QuartzCron{}.FireTimesWithin("0 0 8 * * ?", start, start.AddDate(0, 0, 2), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2015-03-25T08:00:00-07:00", got[0].Format(time.RFC3339))
}

func TestQuartzLimit(t *testing.T) {
	t.Parallel()
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := QuartzCron{}.FireTimesWithin("* * * * * ?", start, start.AddDate(1, 0, 0), 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestYearSetAfter(t *testing.T) {
	t.Parallel()
	set, err := parseYears("2015,2020-2030/5")
	require.NoError(t, err)
	next, ok := set.after(2015)
	require.True(t, ok)
	assert.Equal(t, 2020, next)
	next, ok = set.after(2024)
	require.True(t, ok)
	assert.Equal(t, 2025, next)
	_, ok = set.after(2030)
	assert.False(t, ok)
}

func TestQuartzDayRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr  string
		start string
		end   string
		want  []string
	}{
		{"0 0 10 ? * MON#2", "2015-01-01", "2015-04-01", []string{"2015-01-12", "2015-02-09", "2015-03-09"}},
		{"0 0 10 L * ?", "2015-01-01", "2015-04-01", []string{"2015-01-31", "2015-02-28", "2015-03-31"}},
		{"0 0 10 L-2 * ?", "2015-01-01", "2015-04-01", []string{"2015-01-29", "2015-02-26", "2015-03-29"}},
		{"0 0 10 LW * ?", "2015-01-01", "2015-04-01", []string{"2015-01-30", "2015-02-27", "2015-03-31"}},
		{"0 0 10 15W * ?", "2015-01-01", "2015-04-01", []string{"2015-01-15", "2015-02-16", "2015-03-16"}},
		{"0 0 10 15W * ?", "2015-08-01", "2015-09-01", []string{"2015-08-14"}},
		{"0 0 10 1W * ?", "2015-08-01", "2015-09-01", []string{"2015-08-03"}},
		{"0 0 10 ? * 6L", "2015-01-01", "2015-04-01", []string{"2015-01-30", "2015-02-27", "2015-03-27"}},
		{"0 0 10 ? * FRIL 2015", "2015-01-01", "2015-02-01", []string{"2015-01-30"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr+" from "+tt.start, func(t *testing.T) {
			t.Parallel()
			start, err := time.Parse(time.DateOnly, tt.start)
			require.NoError(t, err)
			end, err := time.Parse(time.DateOnly, tt.end)
			require.NoError(t, err)
			got, err := QuartzCron{}.FireTimesWithin(tt.expr, start, end, 0)
			require.NoError(t, err)
			days := make([]string, len(got))
			for i, g := range got {
				days[i] = g.Format(time.DateOnly)
				assert.Equal(t, 10, g.Hour())
			}
			assert.Equal(t, tt.want, days)
		})
	}
}

func TestQuartzDayRulesValidate(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"0 0 10 15W * MON", "0 0 10 ? * MON#6", "0 0 10 32W * ?", "0 0 10 L-31 * ?", "0 0 10 ? * 8L"} {
		assert.Error(t, QuartzCron{}.Validate(expr), expr)
	}
	for _, expr := range []string{"0 0 10 ? * L", "0 0 10 L * ?", "0 0 10 ? * 2#1"} {
		assert.NoError(t, QuartzCron{}.Validate(expr), expr)
	}
}
